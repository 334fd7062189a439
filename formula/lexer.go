package formula

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokTilde
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokCaret
	tokColon
	tokLParen
	tokRParen
	tokDot
	tokInvalid
)

type token struct {
	kind tokenKind
	text string
}

// lexer tokenizes formula source. Identifiers follow R naming and may
// contain dots ("Sepal.Length"); a lone "." is the wildcard token.
type lexer struct {
	src    string
	pos    int
	peeked *token
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

func (l *lexer) peek() token {
	if l.peeked == nil {
		t := l.scan()
		l.peeked = &t
	}
	return *l.peeked
}

func (l *lexer) next() token {
	if l.peeked != nil {
		t := *l.peeked
		l.peeked = nil
		return t
	}
	return l.scan()
}

func (l *lexer) scan() token {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t' || l.src[l.pos] == '\n') {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, text: "<end of formula>"}
	}

	ch := l.src[l.pos]
	switch ch {
	case '~':
		l.pos++
		return token{kind: tokTilde, text: "~"}
	case '+':
		l.pos++
		return token{kind: tokPlus, text: "+"}
	case '-':
		l.pos++
		return token{kind: tokMinus, text: "-"}
	case '*':
		l.pos++
		return token{kind: tokStar, text: "*"}
	case '/':
		l.pos++
		return token{kind: tokSlash, text: "/"}
	case '^':
		l.pos++
		return token{kind: tokCaret, text: "^"}
	case ':':
		l.pos++
		return token{kind: tokColon, text: ":"}
	case '(':
		l.pos++
		return token{kind: tokLParen, text: "("}
	case ')':
		l.pos++
		return token{kind: tokRParen, text: ")"}
	}

	if isDigit(ch) {
		start := l.pos
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		return token{kind: tokNumber, text: l.src[start:l.pos]}
	}

	if ch == '.' {
		// Either the wildcard or the start of a dotted identifier.
		if l.pos+1 < len(l.src) && isIdentChar(l.src[l.pos+1]) {
			start := l.pos
			l.pos++
			for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
				l.pos++
			}
			return token{kind: tokIdent, text: l.src[start:l.pos]}
		}
		l.pos++
		return token{kind: tokDot, text: "."}
	}

	if isIdentStart(ch) {
		start := l.pos
		for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos]}
	}

	l.pos++
	return token{kind: tokInvalid, text: string(ch)}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '.'
}
