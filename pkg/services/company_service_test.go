package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemora/mnemora/pkg/database"
	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/store"
	"github.com/mnemora/mnemora/test/util"
)

func newCompanyService(t *testing.T) (*CompanyService, *util.MemConn) {
	t.Helper()
	conn := util.NewMemConn()
	exec := database.NewExecutor(conn, model.DefaultRegistry())
	return NewCompanyService(store.NewRepository[model.Company](exec)), conn
}

func TestCompanyCreate(t *testing.T) {
	svc, conn := newCompanyService(t)

	company, err := svc.Create(context.Background(), CreateCompanyInput{
		CompanyID: "acme",
		Name:      "Acme",
	})
	require.NoError(t, err)

	assert.Equal(t, "acme", company.CompanyID)
	assert.NotEmpty(t, company.ID)
	assert.Equal(t, model.DefaultSensorTypes, company.SensorTypes)
	assert.Len(t, conn.Rows("company"), 1)
}

func TestCompanyCreate_KeepsExplicitTypes(t *testing.T) {
	svc, _ := newCompanyService(t)

	company, err := svc.Create(context.Background(), CreateCompanyInput{
		CompanyID:   "acme",
		Name:        "Acme",
		SensorTypes: []string{"chat"},
		EntityTypes: []string{"person"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"chat"}, company.SensorTypes)
	assert.Equal(t, []string{"person"}, company.EntityTypes)
}

func TestCompanyCreate_Validation(t *testing.T) {
	svc, _ := newCompanyService(t)

	_, err := svc.Create(context.Background(), CreateCompanyInput{Name: "Acme"})
	assert.True(t, IsValidationError(err))

	_, err = svc.Create(context.Background(), CreateCompanyInput{CompanyID: "acme"})
	assert.True(t, IsValidationError(err))
}

func TestCompanyCreate_Duplicate(t *testing.T) {
	svc, _ := newCompanyService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateCompanyInput{CompanyID: "acme", Name: "Acme"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateCompanyInput{CompanyID: "acme", Name: "Other"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCompanyCreate_Override(t *testing.T) {
	svc, _ := newCompanyService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateCompanyInput{CompanyID: "acme", Name: "Acme"})
	require.NoError(t, err)

	updated, err := svc.Create(ctx, CreateCompanyInput{
		CompanyID: "acme", Name: "Acme Renamed", Override: true,
		EntityTypes: []string{"person"},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, updated.ID)
	assert.Equal(t, "Acme Renamed", updated.Name)
	assert.Equal(t, []string{"person"}, updated.EntityTypes)
}

func TestCompanyGet_NotFound(t *testing.T) {
	svc, _ := newCompanyService(t)

	_, err := svc.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompanyList(t *testing.T) {
	svc, _ := newCompanyService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateCompanyInput{CompanyID: "acme", Name: "Acme"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateCompanyInput{CompanyID: "globex", Name: "Globex"})
	require.NoError(t, err)

	companies, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, companies, 2)
}

func TestCompanyResolve(t *testing.T) {
	svc, _ := newCompanyService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateCompanyInput{CompanyID: "acme", Name: "Acme"})
	require.NoError(t, err)

	// company_id takes precedence over tenant_id.
	company, err := svc.Resolve(ctx, "company:bogus", "acme")
	require.NoError(t, err)
	assert.Equal(t, created.ID, company.ID)

	// A tenant id is the record id.
	company, err = svc.Resolve(ctx, created.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "acme", company.CompanyID)

	// A tenant id that is no record id falls back to company_id lookup.
	company, err = svc.Resolve(ctx, "acme", "")
	require.NoError(t, err)
	assert.Equal(t, created.ID, company.ID)

	_, err = svc.Resolve(ctx, "", "")
	assert.True(t, IsValidationError(err))

	_, err = svc.Resolve(ctx, "ghost", "")
	assert.ErrorIs(t, err, ErrNotFound)
}
