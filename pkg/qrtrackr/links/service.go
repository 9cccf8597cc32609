package links

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mikepea/qrtrackr/pkg/qrtrackr/logger"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/qrimage"
)

// RecentWindow is how far back "recent scans" reach.
const RecentWindow = 30 * 24 * time.Hour

// ImageGenerator renders the QR image for a piece of content.
type ImageGenerator interface {
	Generate(ctx context.Context, content string, opts qrimage.Options) (string, error)
}

// Service ties the store to image generation. Handlers go through it rather
// than the store whenever a link's image may need to exist afterwards.
type Service struct {
	store   *Store
	images  ImageGenerator
	baseURL string
	logger  *logger.Logger
}

func NewService(store *Store, images ImageGenerator, baseURL string, l *logger.Logger) *Service {
	return &Service{
		store:   store,
		images:  images,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  l,
	}
}

func (s *Service) Store() *Store {
	return s.store
}

// TrackingURL is the public URL encoded into a link's QR image.
func (s *Service) TrackingURL(code string) string {
	return s.baseURL + "/qr/" + code
}

// EnsureImage makes sure the link's image exists and its URL is stored.
func (s *Service) EnsureImage(ctx context.Context, link *models.TrackingLink) (string, error) {
	imageURL, err := s.images.Generate(ctx, s.TrackingURL(link.QRCode), qrimage.Options{})
	if err != nil {
		s.logger.Error("QRIMAGE", fmt.Sprintf("link %d: %v", link.ID, err))
		return "", err
	}
	if imageURL != link.ImageURL() {
		if err := s.store.SetImageURL(ctx, link.ID, imageURL); err != nil {
			return "", err
		}
		link.QRCodeURL = &imageURL
	}
	return imageURL, nil
}

// CreateForPost returns the link for a post or URL, generating its image.
// When only the image fails the link is still returned alongside the error.
func (s *Service) CreateForPost(ctx context.Context, postID *uint, destinationURL string) (*models.TrackingLink, error) {
	link, err := s.store.GetOrCreate(ctx, postID, destinationURL)
	if err != nil {
		return nil, err
	}
	if _, err := s.EnsureImage(ctx, link); err != nil {
		return link, err
	}
	return link, nil
}

// CreateLink inserts a new link and generates its image.
// When only the image fails the link is still returned alongside the error.
func (s *Service) CreateLink(ctx context.Context, f Fields) (*models.TrackingLink, error) {
	link, err := s.store.Create(ctx, f)
	if err != nil {
		return nil, err
	}
	if _, err := s.EnsureImage(ctx, link); err != nil {
		return link, err
	}
	return link, nil
}

// UpdateDetails applies an edit and re-ensures the image when the destination moved.
func (s *Service) UpdateDetails(ctx context.Context, id uint, f UpdateFields) (*UpdateResult, error) {
	result, err := s.store.Update(ctx, id, f)
	if err != nil {
		return nil, err
	}
	if result.DestinationChanged || result.Link.ImageURL() == "" {
		if _, err := s.EnsureImage(ctx, &result.Link); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (s *Service) Delete(ctx context.Context, id uint) error {
	return s.store.Delete(ctx, id)
}

// Details is the JSON projection of a link shown in edit dialogs.
type Details struct {
	ID             uint       `json:"id"`
	QRCode         string     `json:"qr_code"`
	QRCodeURL      string     `json:"qr_code_url"`
	TrackingURL    string     `json:"tracking_url"`
	DestinationURL string     `json:"destination_url"`
	CommonName     string     `json:"common_name"`
	ReferralCode   string     `json:"referral_code"`
	PostID         *uint      `json:"post_id"`
	Scans          uint       `json:"scans"`
	AccessCount    uint       `json:"access_count"`
	RecentScans    int64      `json:"recent_scans"`
	LastAccessed   *time.Time `json:"last_accessed"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Project builds the Details view of link without touching the database.
func (s *Service) Project(link *models.TrackingLink) Details {
	return Details{
		ID:             link.ID,
		QRCode:         link.QRCode,
		QRCodeURL:      link.ImageURL(),
		TrackingURL:    s.TrackingURL(link.QRCode),
		DestinationURL: link.DestinationURL,
		CommonName:     link.Name(),
		ReferralCode:   link.Referral(),
		PostID:         link.PostID,
		Scans:          link.Scans,
		AccessCount:    link.Scans,
		LastAccessed:   link.LastAccessed,
		CreatedAt:      link.CreatedAt,
		UpdatedAt:      link.UpdatedAt,
	}
}

// Details loads a link with its recent scan count.
func (s *Service) Details(ctx context.Context, id uint) (*Details, error) {
	link, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d := s.Project(link)
	if d.RecentScans, err = s.store.RecentScanCount(ctx, id, time.Now().Add(-RecentWindow)); err != nil {
		return nil, err
	}
	return &d, nil
}
