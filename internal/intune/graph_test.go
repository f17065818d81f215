package intune

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFindRecordsByTrackingIDMatchesNotesAcrossPages(t *testing.T) {
	var base string
	mux := http.NewServeMux()
	mux.HandleFunc("/deviceAppManagement/mobileApps", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if r.URL.Query().Get("page") == "2" {
			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": "app-3", "displayName": "Firefox 127", "notes": "labelforge-id=T1", "primaryBundleVersion": "127.0"},
				},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{"id": "app-1", "displayName": "Firefox 128", "notes": "labelforge-id=T1", "primaryBundleVersion": "128.0", "isAssigned": true},
				{"id": "app-2", "displayName": "Other App", "notes": "labelforge-id=OTHER", "primaryBundleVersion": "9.9"},
			},
			"@odata.nextLink": base + "/deviceAppManagement/mobileApps?page=2",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	base = srv.URL

	g := NewGraphClient(nil)
	g.SetBaseURL(srv.URL)

	records, err := g.FindRecordsByTrackingID(context.Background(), "tok", "T1")
	if err != nil {
		t.Fatalf("FindRecordsByTrackingID failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (marker-matched across pages): %+v", len(records), records)
	}
	if records[0].ID != "app-1" || !records[0].IsAssigned || records[0].Version != "128.0" {
		t.Errorf("first record = %+v", records[0])
	}
	if records[1].ID != "app-3" {
		t.Errorf("second page record missing: %+v", records[1])
	}
}

func TestGraphErrorSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"Unauthorized"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewGraphClient(nil)
	g.SetBaseURL(srv.URL)

	if _, err := g.FindRecordsByTrackingID(context.Background(), "bad", "T1"); err == nil {
		t.Fatal("expected error for HTTP 401")
	}
}

func TestClientCredentialsCachesToken(t *testing.T) {
	issued := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		issued++
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600}`, issued)
	}))
	defer srv.Close()

	c := NewClientCredentials("tenant", "client", "secret")
	c.tokenURL = srv.URL

	first, err := c.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	second, err := c.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if first != "tok-1" || second != "tok-1" {
		t.Errorf("tokens = %q, %q; want the cached tok-1 twice", first, second)
	}
	if issued != 1 {
		t.Errorf("token endpoint hit %d times, want 1", issued)
	}
}

func TestClientCredentialsRejectsEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token_type":"Bearer"}`)
	}))
	defer srv.Close()

	c := NewClientCredentials("tenant", "client", "secret")
	c.tokenURL = srv.URL
	if _, err := c.Token(context.Background()); err == nil {
		t.Fatal("expected error for response without access token")
	}
}

func TestUpdateMetadataAndAssignments(t *testing.T) {
	var patched map[string]any
	var assignBody map[string]any
	var categoryRefs []string

	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /deviceAppManagement/mobileApps/app-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&patched)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /deviceAppManagement/mobileApps/app-1/assign", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&assignBody)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /deviceAppManagement/mobileApps/app-1/categories/$ref", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		categoryRefs = append(categoryRefs, fmt.Sprint(body["@odata.id"]))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGraphClient(nil)
	g.SetBaseURL(srv.URL)
	ctx := context.Background()

	if err := g.UpdateMetadata(ctx, "tok", "app-1", map[string]any{"description": "Managed by labelforge"}); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if patched["description"] != "Managed by labelforge" {
		t.Errorf("patched body = %v", patched)
	}

	if err := g.AssignGroups(ctx, "tok", "app-1", []string{"group-a", "group-b"}); err != nil {
		t.Fatalf("AssignGroups: %v", err)
	}
	assignments, ok := assignBody["mobileAppAssignments"].([]any)
	if !ok || len(assignments) != 2 {
		t.Errorf("assignments = %v", assignBody)
	}

	if err := g.AssignCategories(ctx, "tok", "app-1", []string{"cat-1"}); err != nil {
		t.Fatalf("AssignCategories: %v", err)
	}
	if len(categoryRefs) != 1 || !strings.Contains(categoryRefs[0], "mobileAppCategories/cat-1") {
		t.Errorf("category refs = %v", categoryRefs)
	}
}
