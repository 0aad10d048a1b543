// Command mgctl is an operator CLI for the MedGate service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	pb "github.com/and161185/medgate/api/medgate/v1"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	Subject     string    `json:"subject"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "medgate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "medgate")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok, sub string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, Subject: sub, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run `mgctl token` first)")
	}
	return tf.AccessToken, nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// conn holds the connection settings shared by every RPC command.
type conn struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
	token      string
	timeout    time.Duration

	extra []grpc.DialOption
}

// bearer prefers --token and falls back to the saved token. Public calls work without one.
func (c *conn) bearer() string {
	if c.token != "" {
		return c.token
	}
	tok, err := loadToken()
	if err != nil {
		return ""
	}
	return tok
}

func (c *conn) dial(ctx context.Context) (*grpc.ClientConn, *pb.Client, error) {
	var creds credentials.TransportCredentials
	if c.plaintext {
		creds = insecure.NewCredentials()
	} else {
		var err error
		if creds, err = loadTLS(c.caPath, c.skipVerify); err != nil {
			return nil, nil, err
		}
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if tok := c.bearer(); tok != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: tok, secure: !c.plaintext}))
	}
	opts = append(opts, c.extra...)
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	cc, err := grpc.DialContext(ctx, c.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, pb.NewClient(cc), nil
}

// call dials, runs fn with a bounded context and closes the connection.
func (c *conn) call(fn func(ctx context.Context, cl *pb.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	cc, cl, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer cc.Close()
	return fn(ctx, cl)
}

// ---- utils ----

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func errMessage(err error) string {
	if s, ok := status.FromError(err); ok {
		return fmt.Sprintf("rpc error: code=%s msg=%s", s.Code(), s.Message())
	}
	return err.Error()
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd(&conn{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errMessage(err))
		os.Exit(1)
	}
}
