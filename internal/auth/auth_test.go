package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulachat/aulachat/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(t.TempDir(), []string{"General"}, 1000)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func TestFirstRegistrationBecomesAdmin(t *testing.T) {
	svc := newTestService(t)

	role, err := svc.Register("ana", HashSecret("pw"), "mascota?", HashSecret("rex"))
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	role, err = svc.Register("luis", HashSecret("pw2"), "color?", HashSecret("azul"))
	require.NoError(t, err)
	assert.Equal(t, RoleEstudiante, role)
}

func TestDuplicateRegistrationDoesNotAlterRecord(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Register("ana", HashSecret("pw"), "mascota?", HashSecret("rex"))
	require.NoError(t, err)

	_, err = svc.Register("ana", HashSecret("otra"), "otra?", HashSecret("otra"))
	assert.ErrorIs(t, err, ErrUserExists)

	// Original credentials still valid.
	role, err := svc.VerifyLogin("ana", HashSecret("pw"))
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
}

func TestVerifyLogin(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Register("ana", HashSecret("pw"), "q", HashSecret("a"))
	require.NoError(t, err)

	_, err = svc.VerifyLogin("desconocido", HashSecret("pw"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.VerifyLogin("ana", HashSecret("wrong"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	role, err := svc.VerifyLogin("ana", HashSecret("pw"))
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
}

func TestBannedAccountCannotLogIn(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Register("ana", HashSecret("pw"), "q", HashSecret("a"))
	require.NoError(t, err)
	_, err = svc.Register("luis", HashSecret("pw"), "q", HashSecret("a"))
	require.NoError(t, err)

	require.NoError(t, svc.SetBanned("luis", true))
	_, err = svc.VerifyLogin("luis", HashSecret("pw"))
	assert.ErrorIs(t, err, ErrBanned)

	require.NoError(t, svc.SetBanned("luis", false))
	role, err := svc.VerifyLogin("luis", HashSecret("pw"))
	require.NoError(t, err)
	assert.Equal(t, RoleEstudiante, role)
}

func TestRecoveryFlow(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Register("ana", HashSecret("pw"), "mascota?", HashSecret("rex"))
	require.NoError(t, err)

	q, err := svc.RecoveryQuestion("ana")
	require.NoError(t, err)
	assert.Equal(t, "mascota?", q)

	_, err = svc.RecoveryQuestion("nadie")
	assert.ErrorIs(t, err, ErrUserNotFound)

	err = svc.ResetPassword("ana", HashSecret("equivocado"), HashSecret("nueva"))
	assert.ErrorIs(t, err, ErrAnswerMismatch)

	require.NoError(t, svc.ResetPassword("ana", HashSecret("rex"), HashSecret("nueva")))

	_, err = svc.VerifyLogin("ana", HashSecret("pw"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	role, err := svc.VerifyLogin("ana", HashSecret("nueva"))
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
}

func TestSetRole(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Register("ana", HashSecret("pw"), "q", HashSecret("a"))
	require.NoError(t, err)
	_, err = svc.Register("luis", HashSecret("pw"), "q", HashSecret("a"))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.SetRole("luis", "profesor"), ErrInvalidRole)
	assert.ErrorIs(t, svc.SetRole("nadie", RoleDocente), ErrUserNotFound)

	require.NoError(t, svc.SetRole("luis", RoleDocente))
	role, err := svc.Role("luis")
	require.NoError(t, err)
	assert.Equal(t, RoleDocente, role)
}

func TestRoleHelpers(t *testing.T) {
	assert.True(t, ValidRole(RoleAdmin))
	assert.True(t, ValidRole(RoleDocente))
	assert.True(t, ValidRole(RoleEstudiante))
	assert.False(t, ValidRole("profesor"))

	assert.True(t, IsStaff(RoleAdmin))
	assert.True(t, IsStaff(RoleDocente))
	assert.False(t, IsStaff(RoleEstudiante))
}
