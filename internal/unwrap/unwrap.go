// Package unwrap hides a synthetic root element from token consumers.
package unwrap

import "encoding/xml"

type phase uint8

const (
	beforeWrapper phase = iota
	insideWrapper
	afterWrapper
)

type unwrapper struct {
	r     xml.TokenReader
	name  string
	depth int
	phase phase
}

func (u *unwrapper) Token() (xml.Token, error) {
	for {
		tok, err := u.r.Token()
		if tok == nil || u.phase == afterWrapper {
			return tok, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if u.phase == beforeWrapper {
				if t.Name.Space == "" && t.Name.Local == u.name {
					u.phase = insideWrapper
					if err != nil {
						return nil, err
					}
					continue
				}
				break
			}
			u.depth++
		case xml.EndElement:
			if u.phase != insideWrapper {
				break
			}
			if u.depth == 0 {
				u.phase = afterWrapper
				if err != nil {
					return nil, err
				}
				continue
			}
			u.depth--
		}
		return tok, err
	}
}

// Tokens wraps r and drops the start and end of the first top-level element
// named name, along with nothing else. Tokens before and after it pass through.
func Tokens(r xml.TokenReader, name string) xml.TokenReader {
	return &unwrapper{r: r, name: name}
}
