// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package auth provides admin session management and dashboard view
// authorization.
package auth

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/llw2011/oc-monitor/internal/clock"
	"github.com/llw2011/oc-monitor/internal/config"
	"github.com/llw2011/oc-monitor/internal/errors"
)

// SessionCookie is the cookie carrying the admin session credential.
const SessionCookie = "ocm_session"

// Authority issues and verifies admin session credentials. Sessions are
// self-contained signed tokens, so restarts do not log admins out and no
// session table is needed.
type Authority struct {
	adminUser string
	adminPass string
	secret    []byte
	ttl       time.Duration
}

// NewAuthority creates an Authority from the auth settings.
func NewAuthority(cfg *config.AuthConfig) *Authority {
	return &Authority{
		adminUser: cfg.AdminUser,
		adminPass: cfg.AdminPass,
		secret:    []byte(cfg.SessionSecret),
		ttl:       time.Duration(cfg.SessionTTLSec) * time.Second,
	}
}

// Login checks the credentials and returns a signed session token.
func (a *Authority) Login(username, password string) (string, error) {
	if a.adminPass == "" {
		return "", errors.New(errors.KindUnavailable, "admin login not configured")
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.adminUser)) != 1 ||
		!a.checkPassword(password) {
		return "", errors.New(errors.KindPermission, "invalid credentials")
	}

	now := clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   a.adminUser,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "sign session")
	}
	return signed, nil
}

// checkPassword accepts either a bcrypt hash or a plain secret in config.
// Plain secrets compare in constant time.
func (a *Authority) checkPassword(password string) bool {
	if strings.HasPrefix(a.adminPass, "$2a$") || strings.HasPrefix(a.adminPass, "$2b$") {
		return bcrypt.CompareHashAndPassword([]byte(a.adminPass), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(a.adminPass)) == 1
}

// Verify parses a session token and returns the admin username. Expired or
// tampered tokens fail with a permission error.
func (a *Authority) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.New(errors.KindPermission, "missing session")
	}
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New(errors.KindPermission, "unexpected signing method")
			}
			return a.secret, nil
		},
		jwt.WithTimeFunc(clock.Now),
	)
	if err != nil {
		return "", errors.Wrap(err, errors.KindPermission, "invalid session")
	}
	if !token.Valid {
		return "", errors.New(errors.KindPermission, "invalid session")
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New(errors.KindPermission, "invalid session claims")
	}
	return claims.Subject, nil
}

// TTL returns the configured session lifetime.
func (a *Authority) TTL() time.Duration { return a.ttl }

// AdminUser returns the configured admin username.
func (a *Authority) AdminUser() string { return a.adminUser }
