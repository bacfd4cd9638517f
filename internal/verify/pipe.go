package verify

import (
	"io"

	"golang.org/x/sync/errgroup"
)

// Pipe verifies bytes as they are written. The verifier runs on its own
// goroutine and sees only the read end of an io.Pipe, so it can reach nothing
// the producer owns.
type Pipe struct {
	pw *io.PipeWriter
	g  errgroup.Group
}

// NewPipe starts v on the read end of a new pipe.
func NewPipe(v Verifier) *Pipe {
	pr, pw := io.Pipe()
	p := &Pipe{pw: pw}
	p.g.Go(func() error {
		err := v.VerifyStream(pr)
		if err == nil {
			// A verifier that stops early must not leave the writer blocked.
			_, err = io.Copy(io.Discard, pr)
		}
		pr.CloseWithError(err)
		return err
	})
	return p
}

// Write blocks until the verifier has consumed p. Once verification fails,
// Write returns the verification error.
func (p *Pipe) Write(b []byte) (int, error) {
	n, err := p.pw.Write(b)
	if err == io.ErrClosedPipe {
		if verr := p.g.Wait(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

// Close signals end of input and returns the verification result.
func (p *Pipe) Close() error {
	if err := p.pw.Close(); err != nil {
		return err
	}
	return p.g.Wait()
}

// Abort stops verification with cause and waits for the verifier to exit.
func (p *Pipe) Abort(cause error) {
	p.pw.CloseWithError(cause)
	_ = p.g.Wait()
}
