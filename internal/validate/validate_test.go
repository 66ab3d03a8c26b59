package validate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hlgate/internal/codec"
	"hlgate/internal/files"
	"hlgate/internal/reference"
	"hlgate/internal/schema"
	"hlgate/internal/store"
)

type fixture struct {
	reg       *schema.Registry
	contracts *schema.Entity
	portfolio *schema.Entity
	files     *files.Local
	store     *store.Memory
	v         *Validator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	zero := int64(0)
	contracts := &schema.Entity{
		ID: "contracts",
		Fields: []schema.Field{
			{Code: "UF_NAME", Type: schema.TypeString, Required: true, Constraints: schema.Constraints{MaxLength: 10}},
			{Code: "UF_COMPANY_ID", Type: schema.TypeForeignReference, Required: true, Constraints: schema.Constraints{Prefix: "CO", Kind: "company"}},
			{Code: "UF_CREDIT_LIMIT", Type: schema.TypeInteger, Required: true, Constraints: schema.Constraints{Min: &zero}},
			{Code: "UF_CONTRACT_FILE", Type: schema.TypeFileRef},
			{Code: "UF_DATE_START", Type: schema.TypeDate},
			{Code: "UF_DATE_END", Type: schema.TypeDate},
			{Code: "UF_DEBT", Type: schema.TypeMoneyMinor},
		},
		DateRange: &schema.DateRange{Start: "UF_DATE_START", End: "UF_DATE_END"},
	}
	portfolio := &schema.Entity{
		ID: "portfolio",
		Fields: []schema.Field{
			{Code: "UF_CONTRACT_ID", Type: schema.TypeBlockRef, Constraints: schema.Constraints{Target: "contracts"}},
			{Code: "UF_AGENT_ID", Type: schema.TypeEmployeeRef},
		},
	}
	reg, err := schema.NewRegistry([]*schema.Entity{contracts, portfolio})
	require.NoError(t, err)

	fs, err := files.NewLocal(t.TempDir())
	require.NoError(t, err)

	refs := reference.NewCatalog(
		reference.Directory{Name: "company", Items: []reference.Item{{ID: 1, Name: "Ромашка"}}},
		reference.Directory{Name: "employee", Items: []reference.Item{{ID: 15, Name: "Иванова"}}},
	)
	c := codec.New(codec.WithFiles(fs), codec.WithLocation(time.UTC))
	return &fixture{
		reg: reg, contracts: contracts, portfolio: portfolio,
		files: fs, store: store.NewMemory(),
		v: New(c, reg, refs, fs, nil),
	}
}

func validContract() map[string]any {
	return map[string]any{"UF_NAME": "Договор", "UF_COMPANY_ID": "CO_1", "UF_CREDIT_LIMIT": "100"}
}

func TestRequiredOnCreateOnly(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	errs := fx.v.Validate(ctx, fx.contracts, map[string]any{"UF_NAME": "x"}, Options{})
	assert.Contains(t, errs, "UF_COMPANY_ID")
	assert.Contains(t, errs, "UF_CREDIT_LIMIT")
	assert.Equal(t, "Field 'UF_CREDIT_LIMIT' is required", errs["UF_CREDIT_LIMIT"])
	assert.NotContains(t, errs, "UF_NAME")

	errs = fx.v.Validate(ctx, fx.contracts, map[string]any{"UF_NAME": "x"}, Options{IsUpdate: true})
	assert.True(t, errs.Empty())

	// явно очищенное обязательное поле при обновлении — ошибка
	errs = fx.v.Validate(ctx, fx.contracts, map[string]any{"UF_NAME": "  "}, Options{IsUpdate: true})
	assert.Contains(t, errs, "UF_NAME")
}

func TestCumulativeErrors(t *testing.T) {
	fx := newFixture(t)
	in := map[string]any{
		"UF_NAME":         "слишком длинное название",
		"UF_COMPANY_ID":   "CO_999",
		"UF_CREDIT_LIMIT": "-5",
		"UF_DEBT":         "12.345",
		"UF_UNKNOWN":      "ignored",
	}
	errs := fx.v.Validate(context.Background(), fx.contracts, in, Options{})
	assert.Len(t, errs, 4)
	assert.Equal(t, "Field 'UF_COMPANY_ID' references unknown company 999", errs["UF_COMPANY_ID"])
	assert.Equal(t, "Field 'UF_CREDIT_LIMIT' must be non-negative", errs["UF_CREDIT_LIMIT"])
	assert.Contains(t, errs["UF_NAME"], "10 characters")
	assert.Contains(t, errs["UF_DEBT"], "money format")
}

func TestZeroIsNotEmpty(t *testing.T) {
	fx := newFixture(t)
	in := validContract()
	in["UF_CREDIT_LIMIT"] = "0"
	assert.True(t, fx.v.Validate(context.Background(), fx.contracts, in, Options{}).Empty())
}

func TestSkipReferenceValidation(t *testing.T) {
	fx := newFixture(t)
	in := validContract()
	in["UF_COMPANY_ID"] = "CO_999"
	assert.True(t, fx.v.Validate(context.Background(), fx.contracts, in, Options{SkipReferenceValidation: true}).Empty())

	// формат проверяется всегда
	in["UF_COMPANY_ID"] = "XX_1"
	assert.Contains(t, fx.v.Validate(context.Background(), fx.contracts, in, Options{SkipReferenceValidation: true}), "UF_COMPANY_ID")
}

func TestDateRange(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	in := validContract()
	in["UF_DATE_START"] = "2024-01-10"
	in["UF_DATE_END"] = "2024-01-05"
	errs := fx.v.Validate(ctx, fx.contracts, in, Options{})
	assert.Equal(t, "Field 'UF_DATE_END' must be after 'UF_DATE_START'", errs["UF_DATE_END"])

	in["UF_DATE_START"] = "2024-01-05"
	in["UF_DATE_END"] = "2024-01-10"
	assert.True(t, fx.v.Validate(ctx, fx.contracts, in, Options{}).Empty())

	in["UF_DATE_END"] = "05.01.2024"
	assert.Contains(t, fx.v.Validate(ctx, fx.contracts, in, Options{}), "UF_DATE_END")

	// одна сторона — правило не действует
	delete(in, "UF_DATE_START")
	assert.True(t, fx.v.Validate(ctx, fx.contracts, in, Options{}).Empty())
}

func TestDateRangeFallsBackToStoredOnUpdate(t *testing.T) {
	fx := newFixture(t)
	existing := map[string]any{
		"UF_DATE_START": time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		"UF_DATE_END":   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	errs := fx.v.Validate(context.Background(), fx.contracts,
		map[string]any{"UF_DATE_END": "2024-01-05"},
		Options{IsUpdate: true, Existing: existing})
	assert.Contains(t, errs, "UF_DATE_END")

	errs = fx.v.Validate(context.Background(), fx.contracts,
		map[string]any{"UF_DATE_START": "01.02.2024"},
		Options{IsUpdate: true, Existing: existing})
	assert.True(t, errs.Empty())

	// неразбираемая дата — только ошибка формата
	errs = fx.v.Validate(context.Background(), fx.contracts,
		map[string]any{"UF_DATE_START": "soon"},
		Options{IsUpdate: true, Existing: existing})
	assert.Equal(t, "Field 'UF_DATE_START' has invalid date format", errs["UF_DATE_START"])
	assert.Len(t, errs, 1)
}

func TestFileExtension(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	pdf, err := fx.files.Put(ctx, "a.pdf", "", strings.NewReader("pdf"))
	require.NoError(t, err)
	doc, err := fx.files.Put(ctx, "a.docx", "", strings.NewReader("doc"))
	require.NoError(t, err)

	in := validContract()
	in["UF_CONTRACT_FILE"] = pdf.ID
	assert.True(t, fx.v.Validate(ctx, fx.contracts, in, Options{}).Empty())

	in["UF_CONTRACT_FILE"] = doc.ID
	assert.Equal(t, "Field 'UF_CONTRACT_FILE' must be a file of type: pdf", fx.v.Validate(ctx, fx.contracts, in, Options{})["UF_CONTRACT_FILE"])

	in["UF_CONTRACT_FILE"] = "nope"
	assert.Equal(t, "Field 'UF_CONTRACT_FILE' references unknown file", fx.v.Validate(ctx, fx.contracts, in, Options{})["UF_CONTRACT_FILE"])
}

func TestBlockAndEmployeeRefs(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id, err := fx.store.Add(ctx, "contracts", map[string]any{"UF_NAME": "x"})
	require.NoError(t, err)

	opts := Options{Store: fx.store}
	assert.True(t, fx.v.Validate(ctx, fx.portfolio, map[string]any{"UF_CONTRACT_ID": id, "UF_AGENT_ID": "15"}, opts).Empty())

	errs := fx.v.Validate(ctx, fx.portfolio, map[string]any{"UF_CONTRACT_ID": "77", "UF_AGENT_ID": "16"}, opts)
	assert.Equal(t, "Field 'UF_CONTRACT_ID' references unknown contracts record 77", errs["UF_CONTRACT_ID"])
	assert.Equal(t, "Field 'UF_AGENT_ID' references unknown employee 16", errs["UF_AGENT_ID"])

	errs = fx.v.Validate(ctx, fx.portfolio, map[string]any{"UF_CONTRACT_ID": "-1"}, opts)
	assert.Equal(t, "Field 'UF_CONTRACT_ID' must be a positive id", errs["UF_CONTRACT_ID"])
}

type failingRefs struct{}

func (failingRefs) Lookup(context.Context, string, int64) (string, bool, error) {
	return "", false, errors.New("crm is down")
}

func TestResolverFailureBecomesFieldError(t *testing.T) {
	fx := newFixture(t)
	v := New(codec.New(), fx.reg, failingRefs{}, nil, nil)
	errs := v.Validate(context.Background(), fx.contracts, validContract(), Options{})
	assert.Equal(t, "Field 'UF_COMPANY_ID' could not be verified", errs["UF_COMPANY_ID"])
}
