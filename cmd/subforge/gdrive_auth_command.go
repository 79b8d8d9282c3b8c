package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"subforge/internal/pkg/errors"
	"subforge/internal/storage"
)

func newGDriveAuthCommand() *cobra.Command {
	var (
		clientID, clientSecret string
		wait                   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "gdrive-auth",
		Short: "Obtain a Google Drive refresh token for the gdrive storage provider",
		Long: "Run the OAuth consent flow against a loopback callback and print the " +
			"refresh token to set as GDRIVE_REFRESH_TOKEN.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientID == "" {
				clientID = strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_ID"))
			}
			if clientSecret == "" {
				clientSecret = strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_SECRET"))
			}
			if clientID == "" || clientSecret == "" {
				return errors.ValidationField("gdrive", "client id and secret are required (flags or GDRIVE_CLIENT_ID / GDRIVE_CLIENT_SECRET)")
			}
			return runGDriveAuth(cmd, clientID, clientSecret, wait)
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth client id (default $GDRIVE_CLIENT_ID)")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth client secret (default $GDRIVE_CLIENT_SECRET)")
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Minute, "How long to wait for the browser callback")
	return cmd
}

func runGDriveAuth(cmd *cobra.Command, clientID, clientSecret string, wait time.Duration) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return errors.Wrap(err, "cli.gdrive_auth", "open callback listener")
	}
	defer ln.Close()

	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port)
	conf := storage.OAuthConfig(clientID, clientSecret)
	conf.RedirectURL = redirectURL

	state, err := randomState()
	if err != nil {
		return err
	}

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "invalid state", http.StatusBadRequest)
			trySend(errCh, errors.Validation("oauth callback carried an invalid state"))
		case q.Get("error") != "":
			http.Error(w, "authorization failed: "+q.Get("error"), http.StatusBadRequest)
			trySend(errCh, errors.Validation("authorization failed: "+q.Get("error")))
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			trySend(errCh, errors.Validation("oauth callback carried no code"))
		default:
			fmt.Fprintln(w, "Authorized. You can close this window and return to the terminal.")
			trySend(codeCh, q.Get("code"))
		}
	})

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Fprintf(out, "Open this URL in your browser:\n\n%s\n\nWaiting for authorization on %s\n", authURL, redirectURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return err
	case <-time.After(wait):
		return errors.New(errors.CodeUnavailable, "timed out waiting for authorization")
	case <-ctx.Done():
		return ctx.Err()
	}

	exCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	tok, err := conf.Exchange(exCtx, code)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "cli.gdrive_auth", "exchange authorization code")
	}

	// Google only issues a refresh token on the first consent for a client.
	if strings.TrimSpace(tok.RefreshToken) == "" {
		return errors.Validation("no refresh token returned; revoke the app at https://myaccount.google.com/permissions and retry")
	}
	fmt.Fprintf(out, "\nGDRIVE_REFRESH_TOKEN=%s\n", tok.RefreshToken)
	return nil
}

func trySend[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func randomState() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "cli.gdrive_auth", "generate state")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
