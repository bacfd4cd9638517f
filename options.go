package sqlxml

import (
	"fmt"
	"maps"

	"github.com/prometheus/client_golang/prometheus"

	xmlerrors "github.com/jacoelho/sqlxml/errors"
	"github.com/jacoelho/sqlxml/internal/charset"
)

type intOption struct {
	value int
	set   bool
}

func (o intOption) resolved() int {
	if !o.set {
		return 0
	}
	return o.value
}

type boolOption struct {
	value bool
	set   bool
}

type stringOption struct {
	value string
	set   bool
}

// Options configures a Runtime. The zero value selects every default.
type Options struct {
	registerer     prometheus.Registerer
	verifiers      map[TypeTag]Verifier
	serverEncoding stringOption
	wrapElement    stringOption
	prescanLimit   intOption
	maxDepth       intOption
	strictWrite    boolOption
	registererSet  bool
}

type resolvedOptions struct {
	registerer  prometheus.Registerer
	verifiers   map[TypeTag]Verifier
	server      charset.Charset
	wrapElement string
	limits      limits
	strictWrite bool
}

// NewOptions returns a default, valid options value.
func NewOptions() Options {
	return Options{}
}

// JoinOptions combines option sets in order. Later values override earlier
// ones when set; verifiers are merged per type tag.
func JoinOptions(srcs ...Options) Options {
	var merged Options
	for _, src := range srcs {
		merged.merge(src)
	}
	return merged
}

func (o *Options) merge(src Options) {
	if src.serverEncoding.set {
		o.serverEncoding = src.serverEncoding
	}
	if src.wrapElement.set {
		o.wrapElement = src.wrapElement
	}
	if src.prescanLimit.set {
		o.prescanLimit = src.prescanLimit
	}
	if src.maxDepth.set {
		o.maxDepth = src.maxDepth
	}
	if src.strictWrite.set {
		o.strictWrite = src.strictWrite
	}
	if src.registererSet {
		o.registerer = src.registerer
		o.registererSet = true
	}
	if len(src.verifiers) > 0 {
		if o.verifiers == nil {
			o.verifiers = make(map[TypeTag]Verifier, len(src.verifiers))
		}
		maps.Copy(o.verifiers, src.verifiers)
	}
}

// Validate validates option values.
func (o Options) Validate() error {
	_, err := o.withDefaults()
	return err
}

// WithServerEncoding sets the authoritative encoding of stored values by
// name or alias. The default is UTF-8.
func (o Options) WithServerEncoding(name string) Options {
	o.serverEncoding = stringOption{value: name, set: true}
	return o
}

// WithWrapElement sets the name of the synthetic root element.
func (o Options) WithWrapElement(name string) Options {
	o.wrapElement = stringOption{value: name, set: true}
	return o
}

// WithPrescanLimit sets how many bytes the content form scan may look at (0 uses default).
func (o Options) WithPrescanLimit(value int) Options {
	o.prescanLimit = intOption{value: value, set: true}
	return o
}

// WithMaxDepth sets the element depth limit for Tree (0 uses default).
func (o Options) WithMaxDepth(value int) Options {
	o.maxDepth = intOption{value: value, set: true}
	return o
}

// WithStrictWrite makes writes without an encoding declaration fail unless
// the server encoding is UTF-8.
func (o Options) WithStrictWrite(value bool) Options {
	o.strictWrite = boolOption{value: value, set: true}
	return o
}

// WithRegisterer registers the runtime's counters with reg.
func (o Options) WithRegisterer(reg prometheus.Registerer) Options {
	o.registerer = reg
	o.registererSet = true
	return o
}

// WithVerifier replaces the verifier guarding values of type tag.
func (o Options) WithVerifier(tag TypeTag, v Verifier) Options {
	verifiers := make(map[TypeTag]Verifier, len(o.verifiers)+1)
	maps.Copy(verifiers, o.verifiers)
	verifiers[tag] = v
	o.verifiers = verifiers
	return o
}

func (o Options) withDefaults() (resolvedOptions, error) {
	lim, err := resolveLimits(o.prescanLimit.resolved(), o.maxDepth.resolved())
	if err != nil {
		return resolvedOptions{}, fmt.Errorf("limits: %w", err)
	}
	server := charset.Default()
	if o.serverEncoding.set && o.serverEncoding.value != "" {
		server, err = charset.Resolve(o.serverEncoding.value)
		if err != nil {
			return resolvedOptions{}, fmt.Errorf("server encoding: %w", err)
		}
		if !server.ASCIICompatible() {
			return resolvedOptions{}, xmlerrors.Newf(xmlerrors.ErrUnsupportedEncoding,
				"server encoding %s does not store markup as ASCII", server)
		}
	}
	wrap := o.wrapElement.value
	if wrap != "" && !isXMLName(wrap) {
		return resolvedOptions{}, fmt.Errorf("wrap element %q is not an XML name", wrap)
	}
	return resolvedOptions{
		registerer:  o.registerer,
		verifiers:   o.verifiers,
		server:      server,
		wrapElement: wrap,
		limits:      lim,
		strictWrite: o.strictWrite.value,
	}, nil
}
