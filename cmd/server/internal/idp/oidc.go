// Package idp 提供外部身份源集成；当前实现 OIDC 单点登录
// SSO 换取的外部身份会被映射/自动创建为本地用户，后续仍使用本地令牌
package idp

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	ErrConfigInvalid = errors.New("idp config invalid")
	ErrAuthFailed    = errors.New("external authentication failed")
)

// Options OIDC 认证器配置
type Options struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes 为空时使用 openid profile email
	Scopes []string
}

// Identity 从外部身份源解析出的用户身份
type Identity struct {
	Subject      string
	Username     string
	DisplayName  string
	Email        string
	FoundationID string
}

// Authenticator 通过 OIDC 授权码流程认证用户
type Authenticator struct {
	opts         Options
	provider     *oidc.Provider
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

// NewAuthenticator 发现 OIDC provider 并创建认证器
func NewAuthenticator(ctx context.Context, opts Options) (*Authenticator, error) {
	if opts.IssuerURL == "" || opts.ClientID == "" {
		return nil, ErrConfigInvalid
	}

	provider, err := oidc.NewProvider(ctx, opts.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover OIDC provider: %w", err)
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &Authenticator{
		opts:     opts,
		provider: provider,
		oauth2Config: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: opts.ClientID}),
	}, nil
}

// AuthURL 生成授权跳转地址
func (a *Authenticator) AuthURL(state string) string {
	return a.oauth2Config.AuthCodeURL(state)
}

// Exchange 用授权码换取并校验 ID token，解析出本地可用的身份
func (a *Authenticator) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := a.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange code: %v", ErrAuthFailed, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%w: no id_token in token response", ErrAuthFailed)
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: verify id_token: %v", ErrAuthFailed, err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: parse claims: %v", ErrAuthFailed, err)
	}

	ident := identityFromClaims(claims)
	if ident.Username == "" {
		return nil, fmt.Errorf("%w: cannot determine username from claims", ErrAuthFailed)
	}
	return ident, nil
}

// identityFromClaims 按常见 claim 优先级提取身份字段
func identityFromClaims(claims map[string]any) *Identity {
	ident := &Identity{}
	ident.Subject, _ = claimString(claims, "sub")

	for _, key := range []string{"preferred_username", "email", "sub"} {
		if v, ok := claimString(claims, key); ok && v != "" {
			ident.Username = v
			break
		}
	}

	ident.Email, _ = claimString(claims, "email")
	ident.DisplayName, _ = claimString(claims, "name")
	if ident.DisplayName == "" {
		ident.DisplayName = ident.Username
	}

	// 组织归属：自定义 claim 优先，Google Workspace 的 hd 兜底
	for _, key := range []string{"foundation_id", "org", "hd"} {
		if v, ok := claimString(claims, key); ok && v != "" {
			ident.FoundationID = v
			break
		}
	}
	return ident
}

func claimString(claims map[string]any, key string) (string, bool) {
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}
