package timing

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/language"
)

// Token is one unit of translated text: a word, a symbol, or a single
// character for scripts written without spaces between words.
type Token struct {
	Text string `json:"text"`
	// Length is the rune count of Text in the source string.
	Length int `json:"length"`
}

// Weight is the allocation weight of the token. It is never below 1.
func (t Token) Weight() float64 {
	return float64(max(1, t.Length))
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}]+|[^\s\p{L}\p{M}\p{N}]`)

var characterScripts = []*unicode.RangeTable{
	unicode.Han,
	unicode.Hiragana,
	unicode.Katakana,
	unicode.Thai,
}

// Languages whose text is tokenized per character.
var characterLanguages = map[string]bool{
	"zh": true,
	"ja": true,
	"ko": true,
	"th": true,
}

// Tokenize splits text into ordered tokens. Text containing Han, Hiragana,
// Katakana or Thai code points, or text hinted as zh/ja/ko/th, is split into
// individual non-space characters. Everything else is split into runs of
// letters and digits plus single symbols. Whitespace never yields a token.
func Tokenize(text, lang string) []Token {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if splitsPerCharacter(text, lang) {
		return characterTokens(text)
	}
	return wordTokens(text)
}

func splitsPerCharacter(text, lang string) bool {
	if hintedCharacterLanguage(lang) {
		return true
	}
	for _, r := range text {
		if unicode.In(r, characterScripts...) {
			return true
		}
	}
	return false
}

// hintedCharacterLanguage reports whether the language hint names a language
// without word boundaries. Hints that are not valid BCP 47 tags fall back to
// a prefix match so loose values such as "zh_cn" or "japanese" still count.
func hintedCharacterLanguage(lang string) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return false
	}
	if tag, err := language.Parse(lang); err == nil {
		base, _ := tag.Base()
		if characterLanguages[base.String()] {
			return true
		}
	}
	for code := range characterLanguages {
		if strings.HasPrefix(lang, code) {
			return true
		}
	}
	return false
}

func characterTokens(text string) []Token {
	tokens := make([]Token, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		tokens = append(tokens, Token{Text: string(r), Length: 1})
	}
	return tokens
}

func wordTokens(text string) []Token {
	matches := wordPattern.FindAllString(text, -1)
	tokens := make([]Token, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, Token{Text: m, Length: utf8.RuneCountInString(m)})
	}
	return tokens
}
