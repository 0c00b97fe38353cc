package services

import (
	"fmt"

	"chat-relay/auth"
	"chat-relay/errors"
	"chat-relay/repositories"
)

type IAuthService interface {
	Register(req auth.RegisterRequest) (Token, repositories.User, error)
	Login(req auth.LoginRequest) (Token, repositories.User, error)
}

type AuthService struct {
	userRepository repositories.IUserRepository
	tokens         *auth.TokenManager
}

type Token string

func NewAuthService(repo repositories.IUserRepository, tokens *auth.TokenManager) IAuthService {
	return &AuthService{userRepository: repo, tokens: tokens}
}

func (s *AuthService) Register(req auth.RegisterRequest) (Token, repositories.User, error) {
	// 1. Validate business rules before any expensive cryptographic work.
	if err := auth.ValidateRegister(req); err != nil {
		return "", repositories.User{}, fmt.Errorf("%w: %v", errors.ErrValidationFailed, err)
	}

	// 2. Hash here so the repository never sees a plain password.
	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		return "", repositories.User{}, fmt.Errorf("hashing failed: %w", err)
	}

	// 3. Persist. Propagates ErrUserAlreadyExists if the email is taken.
	user, err := s.userRepository.CreateUser(req.FirstName, req.LastName, req.Email, hashedPassword)
	if err != nil {
		return "", repositories.User{}, err
	}

	// 4. Issue the initial session token.
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return "", repositories.User{}, errors.ErrTokenGeneration
	}
	return Token(token), user, nil
}

func (s *AuthService) Login(req auth.LoginRequest) (Token, repositories.User, error) {
	if err := auth.ValidateLogin(req); err != nil {
		return "", repositories.User{}, fmt.Errorf("%w: %v", errors.ErrValidationFailed, err)
	}

	user, err := s.userRepository.GetUserByEmail(req.Email)
	if err != nil {
		// Generic error to prevent user enumeration attacks.
		return "", repositories.User{}, errors.ErrInvalidCredentials
	}

	match, err := auth.ComparePassword(req.Password, user.PasswordHash)
	if err != nil || !match {
		return "", repositories.User{}, errors.ErrInvalidCredentials
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return "", repositories.User{}, errors.ErrTokenGeneration
	}
	return Token(token), user, nil
}
