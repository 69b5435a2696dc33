package receipt

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/zombor/pantry-tracker/internal/inventory"
)

const (
	householdHeader = "X-Household-ID"
	userHeader      = "X-User-ID"
)

// Server handles HTTP requests for the receipt pipeline and inventory
type Server struct {
	service   *Service
	inventory *inventory.Service
	basicAuth BasicAuth
	validate  *validator.Validate
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, inv *inventory.Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, inv, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, inv *inventory.Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		inventory: inv,
		basicAuth: basicAuth,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	return ok && username == s.basicAuth.Username && password == s.basicAuth.Password
}

// corsMiddleware adds CORS headers and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Pantry Tracker"`)
			jsonError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// householdHandler receives the caller's household and user
type householdHandler func(w http.ResponseWriter, r *http.Request, householdID, userID string)

// withHousehold authenticates the request and resolves the household it acts
// on. Membership is checked upstream; the headers are trusted here.
func (s *Server) withHousehold(next householdHandler) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		householdID := strings.TrimSpace(r.Header.Get(householdHeader))
		if householdID == "" {
			jsonError(w, householdHeader+" header is required", http.StatusBadRequest)
			return
		}
		next(w, r, householdID, strings.TrimSpace(r.Header.Get(userHeader)))
	})
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Receipts
	s.mux.HandleFunc("POST /api/scans", s.withHousehold(s.handleScan))
	s.mux.HandleFunc("GET /api/scans/{id}/file", s.withHousehold(s.handleGetScanFile))
	s.mux.HandleFunc("POST /api/receipts/preview", s.withHousehold(s.handlePreview))
	s.mux.HandleFunc("POST /api/purchases", s.withHousehold(s.handleConfirm))

	// Reference entities
	s.mux.HandleFunc("POST /api/stores", s.withHousehold(s.handleEnsureStore))
	s.mux.HandleFunc("POST /api/brands", s.withHousehold(s.handleEnsureBrand))
	s.mux.HandleFunc("POST /api/units", s.withHousehold(s.handleEnsureUnit))
	s.mux.HandleFunc("POST /api/stops", s.withHousehold(s.handleStartStop))

	// Inventory
	s.mux.HandleFunc("GET /api/sheets/{id}/items", s.withHousehold(s.handleListItems))
	s.mux.HandleFunc("POST /api/sheets/{id}/items", s.withHousehold(s.handleCreateItem))
	s.mux.HandleFunc("GET /api/sheets", s.withHousehold(s.handleListSheets))
	s.mux.HandleFunc("POST /api/sheets", s.withHousehold(s.handleCreateSheet))
	s.mux.HandleFunc("POST /api/items/{id}/transfer", s.withHousehold(s.handleTransfer))

	// Shopping
	s.mux.HandleFunc("GET /api/shopping/suggestions", s.withHousehold(s.handleSuggestions))
	s.mux.HandleFunc("GET /api/shopping", s.withHousehold(s.handleShoppingList))
	s.mux.HandleFunc("POST /api/shopping", s.withHousehold(s.handleAddToShoppingList))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
