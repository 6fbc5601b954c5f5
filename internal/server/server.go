package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/entity/grant"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/logger"
	"max.ks1230/grants-portal/internal/model/accounting"
	"max.ks1230/grants-portal/internal/model/identity"
	"max.ks1230/grants-portal/internal/model/reports"
	"max.ks1230/grants-portal/internal/model/submissions"
)

type submissionService interface {
	Submit(ctx context.Context, claim submission.Claim) (submissions.Accepted, error)
	ListSubmissions(ctx context.Context, email string) ([]submission.Submission, error)
	GetCurrentBalance(ctx context.Context, email string, c grant.Category) (accounting.Balance, error)
	Summary(ctx context.Context, email string) (accounting.Summary, error)
	Receipt(ctx context.Context, email, id string) (submission.Submission, []byte, error)
}

type reportGenerator interface {
	GenerateReport(ctx context.Context, email, period string) (reports.Report, error)
}

type identityService interface {
	Register(ctx context.Context, req identity.RegisterRequest) error
	Login(ctx context.Context, email, password string) (identity.Session, error)
	Resolve(token string) (identity.UserRef, error)
	Profile(ctx context.Context, email string) (grant.Profile, error)
	UploadPicture(ctx context.Context, email string, doc *submission.Document) (string, error)
	Picture(ctx context.Context, email string) ([]byte, string, error)
}

type captchaVerifier interface {
	Verify(ctx context.Context, token string) error
	SiteKey() string
}

type config interface {
	Addr() string
	ReadTimeout() time.Duration
	WriteTimeout() time.Duration
	ShutdownTimeout() time.Duration
	SubmitLimit() float64
	SubmitBurst() int
}

type Server struct {
	submissions submissionService
	identity    identityService
	reports     reportGenerator
	captcha     captchaVerifier
	limiter     *rateLimiter
	config      config
}

// New builds the HTTP server. captcha may be nil when reCAPTCHA is not
// configured.
func New(subs submissionService, ident identityService, reports reportGenerator, captcha captchaVerifier, config config) *Server {
	return &Server{
		submissions: subs,
		identity:    ident,
		reports:     reports,
		captcha:     captcha,
		limiter:     newRateLimiter(config.SubmitLimit(), config.SubmitBurst()),
		config:      config,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observeResponses)

	r.Post("/register", s.register)
	r.Post("/login", s.login)
	r.Get("/config", s.siteConfig)
	r.Post("/verify-recaptcha", s.verifyRecaptcha)
	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(identity.Middleware(s.identity, denyUnauthorized))
		r.Get("/user", s.user)
		r.Post("/profile/picture", s.uploadPicture)
		r.Get("/profile/picture", s.picture)
		r.Get("/grants", s.grantSummary)
		r.Get("/grants/{category}", s.grantBalance)
		r.With(s.limiter.Handler).Post("/submissions", s.submit)
		r.Get("/submissions", s.listSubmissions)
		r.Get("/submissions/{id}/receipt", s.receipt)
		r.Get("/reports", s.report)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  s.config.ReadTimeout(),
		WriteTimeout: s.config.WriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	logger.Info("Shutdown http server - start")
	defer logger.Info("Shutdown http server - end")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	return nil
}
