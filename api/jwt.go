package api

import (
	"crypto"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const RoleAdmin = "admin"

type JWT struct {
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Admin 判斷token是否帶有管理員角色
func (j *JWT) Admin() bool {
	return j.Role == RoleAdmin
}

func ParseAndValidateJWT(tokenString string, secret crypto.Signer) (*JWT, error) {
	const op = "ParseJWT"
	token, err := jwt.ParseWithClaims(tokenString, &JWT{}, func(token *jwt.Token) (interface{}, error) {
		return secret.Public(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%s: token is invalid", op)
	}
	claims, ok := token.Claims.(*JWT)
	if !ok {
		return nil, fmt.Errorf("%s: token claims are invalid", op)
	}
	return claims, nil
}

// SignJWT 簽發access token
// 身分的核發屬於外部登入服務的職責，這裡提供給工具與測試使用
func SignJWT(subject uuid.UUID, username, role string, config AuthConfig) (string, error) {
	const op = "SignJWT"
	token := jwt.NewWithClaims(&jwt.SigningMethodEd25519{}, JWT{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(config.ExpireDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    config.Issuer,
			Subject:   subject.String(),
			ID:        uuid.NewString(),
			Audience:  []string{config.Audience},
		},
	})
	tokenString, err := token.SignedString(config.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to sign JWT, err=%w", op, err)
	}
	return tokenString, nil
}
