// internal/service/payment/gateway.go
package payment

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"
)

// SnapClient creates hosted checkout sessions.
type SnapClient interface {
	CreateTransaction(ctx context.Context, req *snap.Request) (*snap.Response, error)
}

// MidtransSnap calls the Midtrans Snap API.
type MidtransSnap struct {
	client snap.Client
}

func NewMidtransSnap(serverKey string, production bool) *MidtransSnap {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	m := &MidtransSnap{}
	m.client.New(serverKey, env)
	return m
}

func (m *MidtransSnap) CreateTransaction(ctx context.Context, req *snap.Request) (*snap.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, merr := m.client.CreateTransaction(req)
	// merr is a typed pointer; compare it directly so a nil never becomes a non-nil error
	if merr != nil {
		if merr.RawError != nil {
			return nil, fmt.Errorf("snap create transaction (status %d): %s: %w", merr.StatusCode, merr.Message, merr.RawError)
		}
		return nil, fmt.Errorf("snap create transaction (status %d): %s", merr.StatusCode, merr.Message)
	}
	if resp == nil || resp.Token == "" {
		return nil, errors.New("snap create transaction: empty token")
	}
	return resp, nil
}

// Signature is the hex SHA-512 of order id, status code, gross amount and
// server key, as sent in signature_key.
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifySignature compares in constant time.
func VerifySignature(orderID, statusCode, grossAmount, serverKey, signature string) bool {
	if serverKey == "" || signature == "" {
		return false
	}
	want := Signature(orderID, statusCode, grossAmount, serverKey)
	got := strings.ToLower(strings.TrimSpace(signature))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
