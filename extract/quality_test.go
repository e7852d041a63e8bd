package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQualityCheck(t *testing.T) {
	var q Quality
	good := strings.Repeat("The petition to revive the application is granted. ", 5)

	tests := []struct {
		name   string
		text   string
		ok     bool
		reason string
	}{
		{"正常文本", good, true, ""},
		{"空文本", "", false, "too_short"},
		{"不足 100 个字符", strings.Repeat("word ", 19), false, "too_short"},
		{"乱码过多", strings.Repeat("ab~~@@##$$%% ", 10), false, "garbled"},
		{"单词过少", strings.Repeat("x", 120) + " y", false, "too_few_words"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := q.Check(tt.text)
			assert.Equal(t, tt.ok, r.OK)
			assert.Equal(t, tt.reason, r.Reason)
		})
	}

	t.Run("标点不算乱码", func(t *testing.T) {
		r := q.Check(strings.Repeat("(a), [b]; {c}: d! e? f-g. ", 8))
		assert.Zero(t, r.GarbledRatio)
	})

	t.Run("非 ASCII 字母按字符计数", func(t *testing.T) {
		r := q.Check(strings.Repeat("é", 99))
		assert.Equal(t, 99, r.Chars)
		assert.Equal(t, "too_short", r.Reason)
	})
}
