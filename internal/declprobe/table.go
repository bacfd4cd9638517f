package declprobe

import "unicode/utf8"

// template holds every literal the declaration grammar matches byte by byte.
// States refer to literals by offset range rather than by separate strings.
const template = "\xEF\xBB\xBF" + "<?xml" + "version" + "encoding" + "standalone" + "yes" + "no" + "?>"

// span is a half-open range of offsets into template.
type span struct {
	lo, hi uint8
}

func (s span) len() uint8 { return s.hi - s.lo }

func (s span) at(i uint8) byte { return template[s.lo+i] }

func (s span) String() string { return template[s.lo:s.hi] }

var (
	bomSpan        = span{0, 3}
	keywordSpan    = span{3, 8}
	versionSpan    = span{8, 15}
	encodingSpan   = span{15, 23}
	standaloneSpan = span{23, 33}
	yesSpan        = span{33, 36}
	noSpan         = span{36, 38}
	closeSpan      = span{38, 40}
)

var whitespaceLUT = [256]bool{
	'\t': true,
	'\n': true,
	'\r': true,
	' ':  true,
}

// encNameStartLUT and encNameLUT follow EncName ::= [A-Za-z] ([A-Za-z0-9._] | '-')*.
var encNameStartLUT = [utf8.RuneSelf]bool{
	'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true, 'G': true,
	'H': true, 'I': true, 'J': true, 'K': true, 'L': true, 'M': true, 'N': true,
	'O': true, 'P': true, 'Q': true, 'R': true, 'S': true, 'T': true, 'U': true,
	'V': true, 'W': true, 'X': true, 'Y': true, 'Z': true,
	'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true, 'g': true,
	'h': true, 'i': true, 'j': true, 'k': true, 'l': true, 'm': true, 'n': true,
	'o': true, 'p': true, 'q': true, 'r': true, 's': true, 't': true, 'u': true,
	'v': true, 'w': true, 'x': true, 'y': true, 'z': true,
}

var encNameLUT = [utf8.RuneSelf]bool{
	'-': true, '.': true, '_': true,
	'0': true, '1': true, '2': true, '3': true, '4': true,
	'5': true, '6': true, '7': true, '8': true, '9': true,
	'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true, 'G': true,
	'H': true, 'I': true, 'J': true, 'K': true, 'L': true, 'M': true, 'N': true,
	'O': true, 'P': true, 'Q': true, 'R': true, 'S': true, 'T': true, 'U': true,
	'V': true, 'W': true, 'X': true, 'Y': true, 'Z': true,
	'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true, 'g': true,
	'h': true, 'i': true, 'j': true, 'k': true, 'l': true, 'm': true, 'n': true,
	'o': true, 'p': true, 'q': true, 'r': true, 's': true, 't': true, 'u': true,
	'v': true, 'w': true, 'x': true, 'y': true, 'z': true,
}

func isWhitespace(b byte) bool {
	return whitespaceLUT[b]
}

func isEncNameStart(b byte) bool {
	return b < utf8.RuneSelf && encNameStartLUT[b]
}

func isEncName(b byte) bool {
	return b < utf8.RuneSelf && encNameLUT[b]
}

// isPITargetByte reports whether b may continue a processing-instruction
// target, which is what "<?xml" followed by such a byte turns out to be.
func isPITargetByte(b byte) bool {
	return b >= utf8.RuneSelf || encNameLUT[b] || b == ':'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isQuote(b byte) bool {
	return b == '"' || b == '\''
}
