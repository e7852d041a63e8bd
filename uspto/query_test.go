package uspto

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fpdmcp/xerrors"
)

func TestBuildQuery(t *testing.T) {
	t.Run("自由查询加便捷参数", func(t *testing.T) {
		q, used, err := BuildQuery(Criteria{
			Query:         "revival",
			ApplicantName: "Acme Corp",
			DecisionType:  "GRANTED",
		}, TierMinimal)
		require.NoError(t, err)
		assert.Equal(t, `(revival) AND firstApplicantName:"Acme Corp" AND decisionTypeCodeDescriptionText:GRANTED`, q)
		assert.Equal(t, "Acme Corp", used["applicant_name"])
		assert.Equal(t, "revival", used["base_query"])
	})

	t.Run("申请号去除斜杠", func(t *testing.T) {
		q, _, err := BuildQuery(Criteria{ApplicationNumber: "16/123,456"}, TierMinimal)
		require.Error(t, err)
		assert.Empty(t, q)

		q, used, err := BuildQuery(Criteria{ApplicationNumber: "16/123456"}, TierMinimal)
		require.NoError(t, err)
		assert.Equal(t, "applicationNumberText:16123456", q)
		assert.Equal(t, "16123456", used["application_number"])
	})

	t.Run("日期区间开放端点", func(t *testing.T) {
		q, _, err := BuildQuery(Criteria{PetitionDateStart: "2020-01-01"}, TierMinimal)
		require.NoError(t, err)
		assert.Equal(t, "petitionMailDate:[2020-01-01 TO *]", q)

		q, _, err = BuildQuery(Criteria{DecisionDateEnd: "2023-12-31"}, TierMinimal)
		require.NoError(t, err)
		assert.Equal(t, "decisionDate:[* TO 2023-12-31]", q)
	})

	t.Run("balanced 参数", func(t *testing.T) {
		q, used, err := BuildQuery(Criteria{ArtUnit: "2128", EntityStatus: "Small"}, TierBalanced)
		require.NoError(t, err)
		assert.Equal(t, `groupArtUnitNumber:2128 AND businessEntityStatusCategory:"Small"`, q)
		assert.Len(t, used, 2)
	})

	t.Run("minimal 层级拒绝 balanced 参数", func(t *testing.T) {
		_, _, err := BuildQuery(Criteria{Query: "x", ArtUnit: "2128"}, TierMinimal)
		require.Error(t, err)
		assert.Equal(t, xerrors.KindValidation, xerrors.KindOf(err))
		assert.Contains(t, err.Error(), "Search_petitions_balanced")
	})

	t.Run("没有任何参数", func(t *testing.T) {
		_, _, err := BuildQuery(Criteria{Query: "   "}, TierBalanced)
		require.Error(t, err)
		assert.Equal(t, xerrors.KindValidation, xerrors.KindOf(err))
	})

	t.Run("可疑字符", func(t *testing.T) {
		_, _, err := BuildQuery(Criteria{ApplicantName: `Acme" OR *`}, TierMinimal)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "applicant_name")
	})

	t.Run("超长参数", func(t *testing.T) {
		_, _, err := BuildQuery(Criteria{PatentNumber: strings.Repeat("1", 16)}, TierMinimal)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too long")
	})

	t.Run("组合查询超过上限", func(t *testing.T) {
		_, _, err := BuildQuery(Criteria{Query: strings.Repeat("a", MaxQueryLength)}, TierMinimal)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Combined query too long")
	})
}

func TestValidateDate(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"空串", "", "", false},
		{"合法日期", " 2024-02-29 ", "2024-02-29", false},
		{"格式错误", "2024/01/01", "", true},
		{"不存在的日期", "2023-02-30", "", true},
		{"年份过早", "1989-12-31", "", true},
		{"年份过晚", strconv.Itoa(time.Now().Year()+6) + "-01-01", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateDate(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, xerrors.KindValidation, xerrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateApplicationNumber(t *testing.T) {
	got, err := ValidateApplicationNumber("16 123 456")
	require.NoError(t, err)
	assert.Equal(t, "16123456", got)

	_, err = ValidateApplicationNumber("12345")
	assert.Error(t, err)

	_, err = ValidateApplicationNumber("12345678901")
	assert.Error(t, err)

	_, err = ValidateApplicationNumber("1612345A")
	assert.Error(t, err)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, ClampLimit(0, 50))
	assert.Equal(t, MinSearchLimit, ClampLimit(-3, 50))
	assert.Equal(t, MaxSearchLimit, ClampLimit(1000, 50))
	assert.Equal(t, 10, ClampLimit(10, 50))
}
