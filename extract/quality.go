package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Quality 本地解析结果的质量门槛
type Quality struct {
	// MinChars 最少字符数（默认：100）
	MinChars int `mapstructure:"min_chars"`
	// MaxGarbledRatio 非文本字符占比上限（默认：0.30）
	MaxGarbledRatio float64 `mapstructure:"max_garbled_ratio"`
	// MinWords 最少单词数（默认：20）
	MinWords int `mapstructure:"min_words"`
}

func (q *Quality) setDefaults() {
	if q.MinChars <= 0 {
		q.MinChars = 100
	}
	if q.MaxGarbledRatio <= 0 {
		q.MaxGarbledRatio = 0.30
	}
	if q.MinWords <= 0 {
		q.MinWords = 20
	}
}

// Report 质量检查结果
type Report struct {
	OK           bool
	Reason       string
	Chars        int
	Words        int
	GarbledRatio float64
}

// Check 检查文本是否可用，三项门槛依次判断
func (q Quality) Check(text string) Report {
	q.setDefaults()

	r := Report{Chars: utf8.RuneCountInString(text)}
	if r.Chars < q.MinChars {
		r.Reason = "too_short"
		return r
	}

	garbled := 0
	for _, c := range text {
		if !isTextRune(c) {
			garbled++
		}
	}
	r.GarbledRatio = float64(garbled) / float64(r.Chars)
	if r.GarbledRatio > q.MaxGarbledRatio {
		r.Reason = "garbled"
		return r
	}

	r.Words = len(strings.Fields(text))
	if r.Words < q.MinWords {
		r.Reason = "too_few_words"
		return r
	}

	r.OK = true
	return r
}

func isTextRune(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || unicode.IsSpace(c) || strings.ContainsRune(".,;:!?-()[]{}", c)
}
