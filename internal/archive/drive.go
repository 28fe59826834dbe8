// Package archive stores recorded answers in Google Drive, one folder per
// participant under a shared parent folder.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	audioMimeType  = "audio/mp3"
	folderPrefix   = "DNA_Analysis_"
)

var ErrNotConfigured = errors.New("drive archive not configured")

// Options selects how the archive authenticates. When ClientID,
// ClientSecret and RefreshToken are all set the archive acts as the admin
// account behind the refresh token; otherwise CredentialsFile must point at
// a service account key.
type Options struct {
	ParentFolderID  string
	CredentialsFile string
	ClientID        string
	ClientSecret    string
	RefreshToken    string
}

func (o Options) usesRefreshToken() bool {
	return o.ClientID != "" && o.ClientSecret != "" && o.RefreshToken != ""
}

type Drive struct {
	service  *drive.Service
	parentID string

	mu      sync.Mutex
	folders map[string]string
	group   singleflight.Group

	resolveTimeout time.Duration
	after          func(time.Duration) <-chan time.Time
	backoff        []time.Duration
}

func NewDrive(ctx context.Context, opts Options) (*Drive, error) {
	if strings.TrimSpace(opts.ParentFolderID) == "" {
		return nil, fmt.Errorf("parent folder id: %w", ErrNotConfigured)
	}

	var clientOpt option.ClientOption
	if opts.usesRefreshToken() {
		conf := &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{drive.DriveScope},
		}
		clientOpt = option.WithTokenSource(conf.TokenSource(ctx, &oauth2.Token{RefreshToken: opts.RefreshToken}))
	} else {
		creds, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}

		config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
		if err != nil {
			return nil, fmt.Errorf("parse credentials: %w", err)
		}
		clientOpt = option.WithCredentials(config)
	}

	svc, err := drive.NewService(ctx, clientOpt)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return NewDriveWithService(svc, opts.ParentFolderID), nil
}

// NewDriveWithService wraps an already constructed Drive client.
func NewDriveWithService(svc *drive.Service, parentID string) *Drive {
	return &Drive{
		service:        svc,
		parentID:       parentID,
		folders:        make(map[string]string),
		resolveTimeout: 60 * time.Second,
		after:          time.After,
		backoff:        []time.Duration{500 * time.Millisecond, 2 * time.Second},
	}
}

// FolderName returns the per-participant folder name for an email address.
func FolderName(email string) string {
	return folderPrefix + strings.ReplaceAll(email, "@", "_at_")
}

// FileName returns the archive name for one answer recording. The
// timestamp is the UTC millisecond ISO form with ':' and '.' replaced so
// the name stays filesystem friendly.
func FileName(sessionID string, questionIndex int, now time.Time) string {
	stamp := now.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return fmt.Sprintf("audio_session_%s_q%d_%s.mp3", sessionID, questionIndex, stamp)
}

// ResolveUserFolder returns the id of the participant's folder, creating it
// under the parent folder when none exists. When several folders share the
// name, the lexicographically smallest id wins so every process converges
// on the same folder.
//
// Concurrent callers for one email share a single lookup. The lookup is
// detached from any one caller's cancellation; each caller stops waiting
// when its own ctx is done.
func (d *Drive) ResolveUserFolder(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", errors.New("resolve folder: empty email")
	}

	d.mu.Lock()
	if id, ok := d.folders[email]; ok {
		d.mu.Unlock()
		return id, nil
	}
	d.mu.Unlock()

	flight := context.WithoutCancel(ctx)
	ch := d.group.DoChan(email, func() (any, error) {
		fctx, cancel := context.WithTimeout(flight, d.resolveTimeout)
		defer cancel()

		id, err := d.findOrCreateFolder(fctx, FolderName(email))
		if err != nil {
			return "", err
		}
		d.mu.Lock()
		d.folders[email] = id
		d.mu.Unlock()
		return id, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("resolve folder: %w", ctx.Err())
	}
}

// forgetFolder drops cached folder ids equal to folderID so the next
// resolution queries Drive again.
func (d *Drive) forgetFolder(folderID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for email, id := range d.folders {
		if id == folderID {
			delete(d.folders, email)
		}
	}
}

func (d *Drive) findOrCreateFolder(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name='%s' and mimeType='%s' and '%s' in parents and trashed=false",
		escapeQuery(name), folderMimeType, escapeQuery(d.parentID))

	list, err := d.service.Files.List().Q(q).Fields("files(id, name)").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive list folders: %w", err)
	}

	if len(list.Files) > 0 {
		ids := make([]string, 0, len(list.Files))
		for _, f := range list.Files {
			ids = append(ids, f.Id)
		}
		sort.Strings(ids)
		return ids[0], nil
	}

	folder, err := d.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{d.parentID},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive create folder: %w", err)
	}
	return folder.Id, nil
}

// Upload stores data as a new audio file inside folderID and returns the
// new file id. Rate limiting, server errors and network failures are
// retried with a short backoff. A missing parent folder evicts it from
// the folder cache.
func (d *Drive) Upload(ctx context.Context, data []byte, fileName, folderID string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= len(d.backoff); attempt++ {
		if attempt > 0 {
			select {
			case <-d.after(d.backoff[attempt-1]):
			case <-ctx.Done():
				return "", fmt.Errorf("drive upload: %w", ctx.Err())
			}
		}

		file, err := d.service.Files.Create(&drive.File{
			Name:     fileName,
			MimeType: audioMimeType,
			Parents:  []string{folderID},
		}).Media(bytes.NewReader(data), googleapi.ContentType(audioMimeType)).Fields("id").Context(ctx).Do()
		if err == nil {
			return file.Id, nil
		}

		lastErr = err
		if isNotFound(err) {
			d.forgetFolder(folderID)
			break
		}
		if !isTransient(ctx, err) {
			break
		}
	}

	return "", fmt.Errorf("drive upload: %w", lastErr)
}

func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
