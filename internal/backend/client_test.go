package backend

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/cotizador/cotizador/internal/domain/quote"
	"github.com/cotizador/cotizador/internal/platform/auth"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// fakeBackend answers every request with handler and records it.
type fakeBackend struct {
	srv      *httptest.Server
	requests []recorded
}

func newFakeBackend(t *testing.T, handler http.HandlerFunc) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fb.requests = append(fb.requests, recorded{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		})
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		handler(w, r)
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) last(t *testing.T) recorded {
	t.Helper()
	if len(fb.requests) == 0 {
		t.Fatal("expected a backend call")
	}
	return fb.requests[len(fb.requests)-1]
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestClient_SendsBearerAndHeaders(t *testing.T) {
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"clinics":["Arequipa"]}`)
	})
	c := New(fb.srv.URL+"/", WithBearer("svc-secret"), WithHeader("X-User-Email", "kery.blanco@doktuz.com"))

	clinics, err := c.Clinics(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clinics) != 1 || clinics[0] != "Arequipa" {
		t.Errorf("unexpected clinics: %v", clinics)
	}

	req := fb.last(t)
	if req.Path != "/api/catalog/clinics" {
		t.Errorf("expected trailing slash of the base to be dropped, got path %q", req.Path)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer svc-secret" {
		t.Errorf("expected bearer credential, got %q", got)
	}
	if got := req.Header.Get("X-User-Email"); got != "kery.blanco@doktuz.com" {
		t.Errorf("expected extra header, got %q", got)
	}
}

func TestClient_APIErrorNormalization(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantDetail string
	}{
		{"detail string", `{"detail":"Sede no encontrada."}`, "Sede no encontrada."},
		{"validation list", `{"detail":[{"msg":"field required"},{"msg":"value is not a valid integer"}]}`, "field required; value is not a valid integer"},
		{"message", `{"message":"Algo salió mal"}`, "Algo salió mal"},
		{"plain text", `upstream exploded`, "upstream exploded"},
		{"empty", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusNotFound, tt.body)
			})
			_, err := New(fb.srv.URL).ListPrices(context.Background(), "Cusco")

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.Status != http.StatusNotFound {
				t.Errorf("expected 404, got %d", apiErr.Status)
			}
			if apiErr.Detail != tt.wantDetail {
				t.Errorf("expected detail %q, got %q", tt.wantDetail, apiErr.Detail)
			}
			if !IsStatus(err, http.StatusNotFound) {
				t.Error("expected IsStatus to match 404")
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	withDetail := &APIError{Status: 400, Detail: "Debes subir un archivo .xlsx"}
	if got := UserMessage(withDetail, "fallback"); got != "Debes subir un archivo .xlsx" {
		t.Errorf("expected backend detail, got %q", got)
	}
	if got := UserMessage(&APIError{Status: 500}, "fallback"); got != "fallback" {
		t.Errorf("expected fallback without detail, got %q", got)
	}
	if got := UserMessage(errors.New("dial tcp: refused"), "fallback"); got != "fallback" {
		t.Errorf("expected fallback for transport errors, got %q", got)
	}
}

func TestCatalog_Query(t *testing.T) {
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"catalog":[{"id":7,"name":"Hemograma","category":"Laboratorio","prices":{"ingreso":40,"periodico":35,"retiro":35}}]}`)
	})
	c := New(fb.srv.URL)

	margin := 25.5
	tests, err := c.Catalog(context.Background(), quote.CatalogQuery{Location: quote.Provincia, Clinic: "Arequipa", Margin: &margin})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tests) != 1 || tests[0].ID != 7 || tests[0].Prices[quote.Periodico] != 35 {
		t.Errorf("unexpected catalog: %+v", tests)
	}
	if q := fb.last(t).Query; q != "clinic=Arequipa&location=Provincia&margin=25.5" {
		t.Errorf("unexpected query: %s", q)
	}

	if _, err := c.Catalog(context.Background(), quote.CatalogQuery{Location: quote.Lima}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q := fb.last(t).Query; q != "location=Lima" {
		t.Errorf("expected Lima query without clinic or margin, got %s", q)
	}
}

func TestCatalog_EmptyIsNotNil(t *testing.T) {
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})
	tests, err := New(fb.srv.URL).Catalog(context.Background(), quote.CatalogQuery{Location: quote.Lima})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tests == nil {
		t.Error("expected an empty, non-nil catalog")
	}
}

func TestNextProposalNumber(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"from backend", `{"proposal_number":"0042"}`, "0042"},
		{"blank falls back", `{"proposal_number":""}`, quote.DefaultProposalNumber},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, tt.body)
			})
			got, err := New(fb.srv.URL).NextProposalNumber(context.Background(), "Kery Blanco")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
			if q := fb.last(t).Query; q != "executive=Kery+Blanco" {
				t.Errorf("unexpected query: %s", q)
			}
		})
	}
}

func TestSaveProtocol(t *testing.T) {
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"ok":true}`)
	})
	rec := quote.ProtocolRecord{Company: "Minera Sur", ProtocolName: "Protocolo 1", TotalTests: 3, CountRequisito: 1}
	if err := New(fb.srv.URL).SaveProtocol(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := fb.last(t)
	if req.Method != http.MethodPost || req.Path != "/api/proposal/save-protocol" {
		t.Errorf("unexpected call %s %s", req.Method, req.Path)
	}
	var got quote.ProtocolRecord
	if err := json.Unmarshal(req.Body, &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got != rec {
		t.Errorf("expected %+v, got %+v", rec, got)
	}
}

func TestCreateDocuments(t *testing.T) {
	zip := []byte("PK\x03\x04deck-and-workbook")
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="cotizacion_Minera_0042.zip"`)
		_, _ = w.Write(zip)
	})
	payload := quote.GenerationPayload{Company: "Minera", Location: quote.Lima, ProposalNumber: "0042", Images: []quote.Image{}}

	doc, err := New(fb.srv.URL).CreateDocuments(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(doc.Body) != string(zip) {
		t.Errorf("expected the archive bytes, got %q", doc.Body)
	}
	if doc.ContentType != "application/zip" || doc.FileName != "cotizacion_Minera_0042.zip" {
		t.Errorf("unexpected document metadata: %q %q", doc.ContentType, doc.FileName)
	}
	if ct := fb.last(t).Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON payload, got %q", ct)
	}
}

func TestCreateDocuments_EmptyBody(t *testing.T) {
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if _, err := New(fb.srv.URL).CreateDocuments(context.Background(), quote.GenerationPayload{}); err == nil {
		t.Fatal("expected an error for an empty document")
	}
}

func TestVerifyCredentials(t *testing.T) {
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "correct" {
			writeJSON(w, http.StatusUnauthorized, `{"detail":"Credenciales inválidas"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":12,"email":"kery.blanco@doktuz.com","name":"Kery Blanco"}`)
	})
	c := New(fb.srv.URL, WithBearer("svc-secret"))

	id, err := c.VerifyCredentials(context.Background(), " kery.blanco@doktuz.com ", "correct")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := auth.Identity{UserID: "12", Email: "kery.blanco@doktuz.com", Name: "Kery Blanco"}
	if id != want {
		t.Errorf("expected %+v, got %+v", want, id)
	}
	if !strings.Contains(string(fb.last(t).Body), `"email":"kery.blanco@doktuz.com"`) {
		t.Errorf("expected trimmed email in body, got %s", fb.last(t).Body)
	}

	if _, err := c.VerifyCredentials(context.Background(), "kery.blanco@doktuz.com", "wrong"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyCredentials_ServerError(t *testing.T) {
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"detail":"db down"}`)
	})
	_, err := New(fb.srv.URL).VerifyCredentials(context.Background(), "a@b.pe", "x")
	if err == nil || errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected a non-credential error, got %v", err)
	}
	if !IsStatus(err, http.StatusInternalServerError) {
		t.Errorf("expected wrapped 500, got %v", err)
	}
}

func TestUsers(t *testing.T) {
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/users":
			if r.Method == http.MethodGet {
				writeJSON(w, http.StatusOK, `[{"id":1,"email":"a@b.pe","name":null}]`)
				return
			}
			writeJSON(w, http.StatusOK, `{"id":2,"email":"c@d.pe","name":null}`)
		case "/api/auth/users/invite":
			writeJSON(w, http.StatusOK, `{"id":3,"email":"e@f.pe","name":"Eva"}`)
		default:
			http.NotFound(w, r)
		}
	})
	c := New(fb.srv.URL)
	ctx := context.Background()

	users, err := c.Users(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 1 || users[0].Name != nil || users[0].Identity().Name != "" {
		t.Errorf("unexpected users: %+v", users)
	}

	if _, err := c.AddUser(ctx, " c@d.pe ", "  "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := string(fb.last(t).Body); body != `{"email":"c@d.pe","name":null}` {
		t.Errorf("expected blank name sent as null, got %s", body)
	}

	u, err := c.InviteUser(ctx, "e@f.pe", "Eva")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Identity().Name != "Eva" {
		t.Errorf("unexpected invited user: %+v", u)
	}
}

func TestRegisterAndPasswordReset(t *testing.T) {
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/register":
			writeJSON(w, http.StatusOK, `{"id":9,"email":"n@x.pe","name":"Nuevo","email_sent":true}`)
		default:
			writeJSON(w, http.StatusOK, `{"message":"Revisa tu correo"}`)
		}
	})
	c := New(fb.srv.URL)
	ctx := context.Background()

	reg, err := c.Register(ctx, Registration{Email: "n@x.pe", Password: "secret123", Name: "Nuevo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.ID != 9 || !reg.EmailSent {
		t.Errorf("unexpected registration: %+v", reg)
	}

	msg, err := c.ForgotPassword(ctx, "n@x.pe")
	if err != nil || msg != "Revisa tu correo" {
		t.Errorf("unexpected forgot-password answer: %q %v", msg, err)
	}

	if _, err := c.ResetPassword(ctx, "tok", "nueva-clave"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := string(fb.last(t).Body); !strings.Contains(body, `"new_password":"nueva-clave"`) {
		t.Errorf("expected new_password field, got %s", body)
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		disposition string
		want        string
	}{
		{`attachment; filename=plantilla_precios.xlsx`, "plantilla_precios.xlsx"},
		{`attachment; filename="a b.zip"`, "a b.zip"},
		{`attachment`, "fallback"},
		{``, "fallback"},
		{`;;;`, "fallback"},
	}
	for _, tt := range tests {
		if got := fileName(tt.disposition, "fallback"); got != tt.want {
			t.Errorf("fileName(%q) = %q, want %q", tt.disposition, got, tt.want)
		}
	}
}

// readUpload parses the multipart body the client sent and returns the
// name and contents of its "file" part.
func readUpload(t *testing.T, req recorded) (string, string) {
	t.Helper()
	_, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("parse content type: %v", err)
	}
	mr := multipart.NewReader(strings.NewReader(string(req.Body)), params["boundary"])
	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("read part: %v", err)
	}
	if part.FormName() != "file" {
		t.Fatalf("expected form field file, got %q", part.FormName())
	}
	data, _ := io.ReadAll(part)
	return part.FileName(), string(data)
}
