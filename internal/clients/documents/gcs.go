package documents

import (
	"bytes"
	"context"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/logger"
	"max.ks1230/grants-portal/internal/model/customerr"
)

type config interface {
	Bucket() string
	UploadTimeout() time.Duration
}

// GCSStore keeps receipts in a Cloud Storage bucket. It relies on
// Application Default Credentials.
type GCSStore struct {
	client  *storage.Client
	bucket  string
	timeout time.Duration
}

func NewGCSStore(ctx context.Context, config config) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "create storage client")
	}
	timeout := config.UploadTimeout()
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &GCSStore{client: client, bucket: config.Bucket(), timeout: timeout}, nil
}

func (s *GCSStore) Put(ctx context.Context, email string, doc *submission.Document) (string, error) {
	if err := checkDocument(doc); err != nil {
		return "", err
	}
	ref, err := s.write(ctx, objectName(email), "application/pdf", email, doc)
	if err != nil {
		return "", customerr.Wrap(customerr.UploadRejected, err, "receipt upload failed")
	}
	logger.Info("receipt stored", zap.String("email", email), zap.String("ref", ref))
	return ref, nil
}

func (s *GCSStore) PutPicture(ctx context.Context, email string, doc *submission.Document) (string, error) {
	contentType, ext, err := checkPicture(doc)
	if err != nil {
		return "", err
	}
	ref, err := s.write(ctx, pictureObjectName(email, ext), contentType, email, doc)
	if err != nil {
		return "", customerr.Wrap(customerr.UploadRejected, err, "picture upload failed")
	}
	logger.Info("profile picture stored", zap.String("email", email), zap.String("ref", ref))
	return ref, nil
}

func (s *GCSStore) write(ctx context.Context, name, contentType, email string, doc *submission.Document) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"original-name": doc.FileName, "owner": email}

	if _, err := io.Copy(w, bytes.NewReader(doc.Data)); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return Ref(s.bucket, name), nil
}

func (s *GCSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	bucket, object, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", ref)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", ref)
	}
	return data, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
