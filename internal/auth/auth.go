package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Claims 是卖家通过密钥认证后签发的房间会话 token。
type Claims struct {
	RoomHash string `json:"room"`
	jwt.RegisteredClaims
}

// HashSecretKey 用 bcrypt 散列卖家密钥，密钥明文不落库。
func HashSecretKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(b), err
}

// VerifySecretKey 比对明文密钥与散列。
func VerifySecretKey(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// GenerateRoomToken 为认证通过的卖家签发短期房间 token。
func GenerateRoomToken(roomHash, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		RoomHash: roomHash,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   roomHash,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseRoomToken 校验并解出房间 token。
func ParseRoomToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// NewRoomHash 生成房间的不透明句柄。
func NewRoomHash() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewBuyerHash 生成买家加入时一次性下发的身份令牌。
func NewBuyerHash() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
