// Command platform-token checks the configured platform credentials by
// fetching an access token, or prints the signed jwt_bearer assertion
// without contacting the token endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"crm-approvals/internal/config"
	"crm-approvals/internal/platform/rest"

	"golang.org/x/oauth2"
)

func main() {
	configPath := flag.String("config", "", "Path to crm-approvals.yaml")
	assertionOnly := flag.Bool("assertion", false, "Print the signed jwt_bearer assertion and exit")
	showToken := flag.Bool("show-token", false, "Print the access token")
	timeout := flag.Duration("timeout", 30*time.Second, "Token request timeout")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		exitErr(err)
	}
	auth := authConfig(cfg.Platform.REST.Auth)

	if *assertionOnly {
		if err := printAssertion(os.Stdout, auth); err != nil {
			exitErr(err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	src, err := rest.NewTokenSource(ctx, auth)
	if err != nil {
		exitErr(err)
	}
	tok, err := src.Token()
	if err != nil {
		exitErr(fmt.Errorf("token request failed: %w", err))
	}
	describeToken(os.Stdout, tok, *showToken)
}

func authConfig(a config.RESTAuthConfig) rest.AuthConfig {
	return rest.AuthConfig{
		Flow:            a.Flow,
		TokenURL:        a.TokenURL,
		ClientID:        a.ClientID,
		ClientSecret:    a.ClientSecret,
		Scopes:          a.Scopes,
		Username:        a.Username,
		Audience:        a.Audience,
		PrivateKeyPath:  a.PrivateKeyFile,
		AccessToken:     a.AccessToken,
		SessionLifetime: a.SessionLifetime,
	}
}

func printAssertion(w io.Writer, auth rest.AuthConfig) error {
	if auth.Flow != rest.AuthJWTBearer {
		return fmt.Errorf("assertions are only used by the %s flow, configured flow is %q", rest.AuthJWTBearer, auth.Flow)
	}
	key, err := rest.LoadPrivateKey(auth.PrivateKeyPath)
	if err != nil {
		return err
	}
	src, err := rest.NewJWTBearerSource(context.Background(), auth, key)
	if err != nil {
		return err
	}
	assertion, err := src.Assertion()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, assertion)
	return err
}

func describeToken(w io.Writer, tok *oauth2.Token, showToken bool) {
	fmt.Fprintf(w, "token_type:   %s\n", tok.Type())
	if tok.Expiry.IsZero() {
		fmt.Fprintln(w, "expires:      never")
	} else {
		fmt.Fprintf(w, "expires:      %s\n", tok.Expiry.Format(time.RFC3339))
	}
	if instance, ok := tok.Extra("instance_url").(string); ok && instance != "" {
		fmt.Fprintf(w, "instance_url: %s\n", instance)
	}
	if showToken {
		fmt.Fprintf(w, "access_token: %s\n", tok.AccessToken)
	}
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
