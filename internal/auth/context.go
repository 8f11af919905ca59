package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxIdentity ctxKey = iota
)

var ErrNoIdentity = errors.New("auth: identity not in context")

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentity, id)
}

func IdentityFrom(ctx context.Context) (Identity, error) {
	if id, ok := ctx.Value(ctxIdentity).(Identity); ok && id.Email != "" {
		return id, nil
	}
	return Identity{}, ErrNoIdentity
}

func Email(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil {
		return "", err
	}
	return id.Email, nil
}

func Role(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil {
		return "", err
	}
	if id.Role == "" {
		return "", errors.New("auth: role not in context")
	}
	return id.Role, nil
}
