package documents

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/model/customerr"
)

const (
	scheme        = "gs://"
	keyPrefix     = "receipts"
	picturePrefix = "profile-pictures"
	// MaxSize bounds an uploaded receipt.
	MaxSize = 10 << 20
	// MaxPictureSize bounds an uploaded profile picture.
	MaxPictureSize = 5 << 20
)

var pictureTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// objectName builds receipts/<email>/<uuid>.pdf.
func objectName(email string) string {
	return path.Join(keyPrefix, url.PathEscape(email), uuid.NewString()+".pdf")
}

// pictureObjectName builds profile-pictures/<email>/<uuid><ext>.
func pictureObjectName(email, ext string) string {
	return path.Join(picturePrefix, url.PathEscape(email), uuid.NewString()+ext)
}

// Ref formats the stable reference stored with a submission.
func Ref(bucket, object string) string {
	return scheme + bucket + "/" + object
}

// ParseRef splits gs://bucket/object into its parts.
func ParseRef(ref string) (bucket, object string, err error) {
	if !strings.HasPrefix(ref, scheme) {
		return "", "", fmt.Errorf("invalid document ref %q", ref)
	}
	parts := strings.SplitN(strings.TrimPrefix(ref, scheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid document ref %q: no object path", ref)
	}
	return parts[0], parts[1], nil
}

func checkDocument(doc *submission.Document) error {
	if doc == nil || len(doc.Data) == 0 {
		return customerr.New(customerr.UploadRejected, "receipt document is empty")
	}
	if len(doc.Data) > MaxSize {
		return customerr.Newf(customerr.UploadRejected, "receipt %q is larger than %d MB", doc.FileName, MaxSize>>20)
	}
	if !doc.Recognized() {
		return customerr.Newf(customerr.UploadRejected, "receipt %q must be a PDF document", doc.FileName)
	}
	return nil
}

// pictureType returns the content type and extension of an accepted image.
// The declared type wins; the file name is used when the type is generic.
func pictureType(doc *submission.Document) (string, string, bool) {
	ct := strings.ToLower(strings.TrimSpace(doc.ContentType))
	if ext, ok := pictureTypes[ct]; ok {
		return ct, ext, true
	}
	if ct != "" && ct != "application/octet-stream" {
		return "", "", false
	}
	ext := strings.ToLower(path.Ext(doc.FileName))
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	for ct, known := range pictureTypes {
		if known == ext {
			return ct, ext, true
		}
	}
	return "", "", false
}

func checkPicture(doc *submission.Document) (string, string, error) {
	if doc == nil || len(doc.Data) == 0 {
		return "", "", customerr.New(customerr.UploadRejected, "No file uploaded")
	}
	if len(doc.Data) > MaxPictureSize {
		return "", "", customerr.Newf(customerr.UploadRejected, "picture %q is larger than %d MB", doc.FileName, MaxPictureSize>>20)
	}
	ct, ext, ok := pictureType(doc)
	if !ok {
		return "", "", customerr.Newf(customerr.UploadRejected, "picture %q must be a JPEG, PNG, GIF or WebP image", doc.FileName)
	}
	return ct, ext, nil
}

// PictureContentType derives the content type of a stored picture from its
// reference.
func PictureContentType(ref string) string {
	ext := strings.ToLower(path.Ext(ref))
	for ct, known := range pictureTypes {
		if known == ext {
			return ct
		}
	}
	return "application/octet-stream"
}
