package server

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"

	"golang.org/x/crypto/blake2b"

	"kekofshadows/protocol"
)

var ErrIdentityNotVerified = errors.New("identity not verified")

// IdentityVerifier 校验连接方是否有权使用路径中的身份
type IdentityVerifier interface {
	Verify(r *http.Request, id protocol.Identity) error
}

// AllowAnyIdentity 不做任何校验：任何人都可以声称任意钱包
type AllowAnyIdentity struct{}

func (AllowAnyIdentity) Verify(*http.Request, protocol.Identity) error { return nil }

// TokenVerifier 要求 ?token= 为以服务端密钥对钱包做的 BLAKE2b-256 MAC（hex）
type TokenVerifier struct {
	key []byte
}

// NewTokenVerifier key 长度需在 1..64 字节之间
func NewTokenVerifier(key []byte) (*TokenVerifier, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, errors.New("token key must be 1-64 bytes")
	}
	return &TokenVerifier{key: append([]byte(nil), key...)}, nil
}

// Token 为钱包签发 token
func (v *TokenVerifier) Token(id protocol.Identity) string {
	h, err := blake2b.New256(v.key)
	if err != nil {
		// 构造时已校验 key 长度
		panic(err)
	}
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}

func (v *TokenVerifier) Verify(r *http.Request, id protocol.Identity) error {
	got := r.URL.Query().Get("token")
	if got == "" {
		return ErrIdentityNotVerified
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(v.Token(id))) != 1 {
		return ErrIdentityNotVerified
	}
	return nil
}
