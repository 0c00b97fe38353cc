package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashAndCompare(t *testing.T) {
	req := require.New(t)
	password := "MonMotDePasseTr0pSûr!"

	hash, err := HashPassword(password)
	req.NoError(err)
	req.True(strings.HasPrefix(hash, "$argon2id$"))

	match, err := ComparePassword(password, hash)
	req.NoError(err)
	req.True(match)

	match, err = ComparePassword("MauvaisMDP", hash)
	req.NoError(err)
	req.False(match)
}

func TestRegistrationValidation(t *testing.T) {
	req := require.New(t)
	valid := func() RegisterRequest {
		return RegisterRequest{
			FirstName: "Ada",
			LastName:  "Lovelace",
			Email:     "test@example.com",
			Password:  "ComplexPass123!",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*RegisterRequest)
		wantErr bool
	}{
		{"Valid request", func(*RegisterRequest) {}, false},
		{"Invalid email", func(r *RegisterRequest) { r.Email = "notanemail" }, true},
		{"Missing first name", func(r *RegisterRequest) { r.FirstName = "" }, true},
		{"Password too short", func(r *RegisterRequest) { r.Password = "Short1!" }, true},
		{"Missing digit", func(r *RegisterRequest) { r.Password = "NoDigitPass!" }, true},
		{"Missing special char", func(r *RegisterRequest) { r.Password = "NoSpecialChar123" }, true},
		{"Missing uppercase", func(r *RegisterRequest) { r.Password = "nouppercase123!" }, true},
		{"Password too long (edge case)", func(r *RegisterRequest) { r.Password = strings.Repeat("a", 73) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := valid()
			tt.mutate(&request)
			err := ValidateRegister(request)
			if tt.wantErr {
				req.Error(err)
			} else {
				req.NoError(err)
			}
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	req := require.New(t)
	manager := NewTokenManager("test-signing-key", time.Hour)

	token, err := manager.Generate("user-42")
	req.NoError(err)
	req.NotEmpty(token)

	claims, err := manager.Validate(token)
	req.NoError(err)
	req.Equal("user-42", claims.UserID)
}

func TestTokenRejectedWhenExpired(t *testing.T) {
	req := require.New(t)
	manager := NewTokenManager("test-signing-key", -time.Minute)

	token, err := manager.Generate("user-42")
	req.NoError(err)

	_, err = manager.Validate(token)
	req.Error(err)
}

func TestTokenRejectedWithWrongKey(t *testing.T) {
	req := require.New(t)
	issuer := NewTokenManager("key-one", time.Hour)
	verifier := NewTokenManager("key-two", time.Hour)

	token, err := issuer.Generate("user-42")
	req.NoError(err)

	_, err = verifier.Validate(token)
	req.Error(err)
}

// BenchmarkHashPassword measures the CPU/RAM cost of one hash.
func BenchmarkHashPassword(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = HashPassword("A-very-long-and-complex-password-for-bench-123!")
	}
}
