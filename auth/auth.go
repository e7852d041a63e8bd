// Package auth 为下载代理签发短期文档访问令牌。
//
// 注册到集中代理时不能携带 USPTO API Key，改为携带只对单个文档有效的 JWT：
//
//	issuer, _ := auth.New(&auth.Config{SecretKey: secret})
//	token, _ := issuer.Issue(ctx, auth.Grant{PetitionID: pid, DocumentIdentifier: doc})
//	claims, err := issuer.Parse(ctx, token)
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/idgen"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// Grant 令牌授权的文档
type Grant struct {
	PetitionID         string
	DocumentIdentifier string
	ApplicationNumber  string
}

// Issuer 文档访问令牌签发器，并发安全
type Issuer struct {
	cfg    *Config
	key    []byte
	now    func() time.Time
	logger clog.Logger

	issued    metrics.Counter
	validated metrics.Counter
}

// New 创建 Issuer
//
// SecretKey 为空时生成进程内随机密钥，此时令牌只能由本进程验证。
func New(cfg *Config, opts ...Option) (*Issuer, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	cfg.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if cfg.SecretKey == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, xerrors.Wrap(err, "auth: generate secret")
		}
		cfg.SecretKey = secret
		o.logger.Debug("no token secret configured, using ephemeral secret")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	issued, err := o.meter.Counter(MetricTokensIssued, "Total number of document access tokens issued")
	if err != nil {
		return nil, xerrors.Wrap(err, "auth: create issued counter")
	}
	validated, err := o.meter.Counter(MetricTokensValidated, "Total number of document access tokens validated")
	if err != nil {
		return nil, xerrors.Wrap(err, "auth: create validated counter")
	}

	return &Issuer{
		cfg:       cfg,
		key:       []byte(cfg.SecretKey),
		now:       time.Now,
		logger:    o.logger,
		issued:    issued,
		validated: validated,
	}, nil
}

// TTL 令牌有效期
func (i *Issuer) TTL() time.Duration {
	return i.cfg.TokenTTL
}

// Issue 为单个文档签发令牌
func (i *Issuer) Issue(ctx context.Context, g Grant) (string, error) {
	if g.PetitionID == "" || g.DocumentIdentifier == "" {
		return "", ErrInvalidClaims
	}

	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        idgen.NewUUIDV7(),
			Issuer:    i.cfg.Issuer,
			Subject:   g.PetitionID + "/" + g.DocumentIdentifier,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.TokenTTL)),
		},
		PetitionID:         g.PetitionID,
		DocumentIdentifier: g.DocumentIdentifier,
		ApplicationNumber:  g.ApplicationNumber,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", xerrors.Wrap(err, "auth: sign token")
	}

	i.issued.Inc(ctx)
	i.logger.Debug("document token issued",
		clog.String("petition_id", g.PetitionID),
		clog.String("document_identifier", g.DocumentIdentifier),
		clog.String("jti", claims.ID))
	return signed, nil
}

// Parse 验证令牌签名、有效期与受众，返回其中的授权信息
func (i *Issuer) Parse(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return i.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithAudience(i.cfg.Audience),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		err = classify(err)
		i.validated.Inc(ctx, metrics.L("status", "error"), metrics.L("error_type", errorType(err)))
		return nil, err
	}
	if !parsed.Valid || claims.PetitionID == "" || claims.DocumentIdentifier == "" {
		i.validated.Inc(ctx, metrics.L("status", "error"), metrics.L("error_type", "invalid_claims"))
		return nil, ErrInvalidClaims
	}

	i.validated.Inc(ctx, metrics.L("status", "success"))
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	default:
		return xerrors.Join(ErrInvalidToken, err)
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "invalid_token"
	}
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
