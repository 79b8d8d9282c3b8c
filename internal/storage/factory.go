// Package storage builds the configured StorageProvider.
package storage

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"subforge/internal/adapters/storage/gdrive"
	"subforge/internal/adapters/storage/localfs"
	"subforge/internal/config"
	"subforge/internal/pkg/errors"
	"subforge/internal/ports"
)

func NewProvider(ctx context.Context, cfg config.StorageConfig) (ports.StorageProvider, error) {
	switch cfg.Provider {
	case config.ProviderLocalFS, "":
		return localfs.New(cfg.LocalRoot), nil
	case config.ProviderGDrive:
		return newGDriveProvider(ctx, cfg.GDrive)
	default:
		return nil, errors.ValidationField("storage.provider", "unknown storage provider: "+cfg.Provider)
	}
}

// OAuthConfig is the Drive client configuration shared with the
// gdrive-auth helper command.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
}

func newGDriveProvider(ctx context.Context, cfg config.GDriveConfig) (ports.StorageProvider, error) {
	conf := OAuthConfig(cfg.ClientID, cfg.ClientSecret)
	httpClient := conf.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.Wrap(err, "storage.gdrive", "create drive service")
	}
	return gdrive.NewClient(srv, cfg.FolderID), nil
}
