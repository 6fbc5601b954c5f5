package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/clients/documents"
	"max.ks1230/grants-portal/internal/entity/grant"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/logger"
	"max.ks1230/grants-portal/internal/model/customerr"
	"max.ks1230/grants-portal/internal/model/identity"
)

const (
	claimField   = "claim"
	receiptField = "receipt"
	pictureField = "profilePic"
	pictureURL   = "/api/profile/picture"
	// multipart overhead on top of the receipt itself
	formOverhead = 1 << 20
)

type registerRequest struct {
	identity.RegisterRequest
	RecaptchaToken string `json:"recaptchaToken"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type claimRequest struct {
	Category            string               `json:"category"`
	Title               string               `json:"title"`
	Applicant           submission.Applicant `json:"applicant"`
	Event               submission.Event     `json:"event"`
	ISSN                string               `json:"issn"`
	Bank                submission.BankInfo  `json:"bank"`
	Charges             submission.Charges   `json:"charges"`
	CoAuthorCount       int                  `json:"coAuthorCount"`
	DeclarationAccepted bool                 `json:"declarationAccepted"`
}

type userResponse struct {
	Email                  string `json:"email"`
	Name                   string `json:"name"`
	Role                   string `json:"role"`
	Designation            string `json:"designation"`
	Phone                  string `json:"phno"`
	RemainingResearchGrant string `json:"remainingResearchGrant"`
	RemainingJournalGrant  string `json:"remainingJournalGrant"`
	ProfileURL             string `json:"profileUrl,omitempty"`
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return customerr.Wrap(customerr.MissingField, err, "request body is not valid JSON")
	}
	return nil
}

func caller(r *http.Request) identity.UserRef {
	user, _ := identity.UserFromContext(r.Context())
	return user
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if s.captcha != nil {
		if err := s.captcha.Verify(r.Context(), req.RecaptchaToken); err != nil {
			s.captchaFailed(w, err)
			return
		}
	}
	if err := s.identity.Register(r.Context(), req.RegisterRequest); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, "User registered successfully!", nil)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	session, err := s.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "Login successful!", session)
}

func (s *Server) siteConfig(w http.ResponseWriter, _ *http.Request) {
	siteKey := ""
	if s.captcha != nil {
		siteKey = s.captcha.SiteKey()
	}
	writeJSON(w, http.StatusOK, map[string]string{"recaptchaSiteKey": siteKey})
}

func (s *Server) verifyRecaptcha(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if s.captcha == nil {
		writeStatus(w, http.StatusServiceUnavailable, "reCAPTCHA is not configured")
		return
	}
	if err := s.captcha.Verify(r.Context(), req.Token); err != nil {
		s.captchaFailed(w, err)
		return
	}
	writeOK(w, http.StatusOK, "reCAPTCHA verified!", nil)
}

func (s *Server) captchaFailed(w http.ResponseWriter, err error) {
	switch customerr.KindOf(err) {
	case customerr.Unauthorized, customerr.MissingField:
		writeJSON(w, http.StatusBadRequest, response{
			Success: false,
			Message: customerr.Reason(err),
			Kind:    string(customerr.KindOf(err)),
		})
	default:
		writeStatus(w, http.StatusBadGateway, "reCAPTCHA verification is unavailable")
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) {
	email := caller(r).Email
	profile, err := s.identity.Profile(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}
	research, err := s.submissions.GetCurrentBalance(r.Context(), email, grant.Research)
	if err != nil {
		writeError(w, err)
		return
	}
	journal, err := s.submissions.GetCurrentBalance(r.Context(), email, grant.Journal)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := userResponse{
		Email:                  profile.Email,
		Name:                   profile.Name,
		Role:                   profile.Role,
		Designation:            profile.Designation,
		Phone:                  profile.Phone,
		RemainingResearchGrant: research.Amount.StringFixed(2),
		RemainingJournalGrant:  journal.Amount.StringFixed(2),
	}
	if profile.PictureRef != "" {
		resp.ProfileURL = pictureURL
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) uploadPicture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, documents.MaxPictureSize+formOverhead)
	if err := r.ParseMultipartForm(documents.MaxPictureSize); err != nil {
		writeError(w, customerr.Wrap(customerr.UploadRejected, err, "upload form is invalid or too large"))
		return
	}
	doc, err := readUpload(r, pictureField)
	if err != nil {
		writeError(w, err)
		return
	}
	if doc == nil {
		writeError(w, customerr.New(customerr.UploadRejected, "No file uploaded"))
		return
	}

	if _, err = s.identity.UploadPicture(r.Context(), caller(r).Email, doc); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "Profile picture uploaded successfully", map[string]string{"profileUrl": pictureURL})
}

func (s *Server) picture(w http.ResponseWriter, r *http.Request) {
	data, ref, err := s.identity.Picture(r.Context(), caller(r).Email)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", documents.PictureContentType(ref))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(data); err != nil {
		logger.Warn("failed to write profile picture", zap.Error(err))
	}
}

func (s *Server) grantSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.submissions.Summary(r.Context(), caller(r).Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) grantBalance(w http.ResponseWriter, r *http.Request) {
	c, err := grant.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeError(w, customerr.Wrap(customerr.MissingField, err, "unknown grant category"))
		return
	}
	bal, err := s.submissions.GetCurrentBalance(r.Context(), caller(r).Email, c)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, documents.MaxSize+formOverhead)
	if err := r.ParseMultipartForm(documents.MaxSize); err != nil {
		writeError(w, customerr.Wrap(customerr.UploadRejected, err, "submission form is invalid or too large"))
		return
	}

	claim, err := parseClaim(r, caller(r).Email)
	if err != nil {
		writeError(w, err)
		return
	}

	accepted, err := s.submissions.Submit(r.Context(), claim)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, "Submission saved successfully", accepted)
}

func parseClaim(r *http.Request, email string) (submission.Claim, error) {
	raw := r.FormValue(claimField)
	if raw == "" {
		return submission.Claim{}, customerr.New(customerr.MissingField, "claim is required")
	}
	var req claimRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return submission.Claim{}, customerr.Wrap(customerr.MissingField, err, "claim is not valid JSON")
	}

	var claim submission.Claim
	switch c, err := grant.ParseCategory(req.Category); {
	case err != nil:
		return submission.Claim{}, customerr.Wrap(customerr.MissingField, err, "submission type is required")
	case c == grant.Journal:
		claim = submission.NewJournalClaim(email, req.Event, strings.TrimSpace(req.ISSN))
	default:
		claim = submission.NewResearchClaim(email, req.Event)
	}
	claim.Title = req.Title
	claim.Applicant = req.Applicant
	claim.Bank = req.Bank
	claim.Charges = req.Charges
	claim.CoAuthorCount = req.CoAuthorCount
	claim.DeclarationAccepted = req.DeclarationAccepted

	receipt, err := readUpload(r, receiptField)
	if err != nil {
		return submission.Claim{}, err
	}
	claim.Receipt = receipt
	return claim, nil
}

// readUpload returns nil when no file was attached under field; callers
// decide whether that is an error.
func readUpload(r *http.Request, field string) (*submission.Document, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, customerr.Wrap(customerr.UploadRejected, err, field+" could not be read")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, customerr.Wrap(customerr.UploadRejected, err, field+" could not be read")
	}
	return &submission.Document{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.submissions.ListSubmissions(r.Context(), caller(r).Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) receipt(w http.ResponseWriter, r *http.Request) {
	sub, data, err := s.submissions.Receipt(r.Context(), caller(r).Email, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="receipt-%s.pdf"`, sub.ID))
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(data); err != nil {
		logger.Warn("failed to write receipt", zap.String("id", sub.ID), zap.Error(err))
	}
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	report, err := s.reports.GenerateReport(r.Context(), caller(r).Email, r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
