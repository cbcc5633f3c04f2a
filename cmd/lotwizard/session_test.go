package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"spinmill/backend/internal/domain"
	"spinmill/backend/internal/httpapi"
	"spinmill/backend/internal/logging"
	"spinmill/backend/internal/lotwizard"
	"spinmill/backend/internal/millclient"
	"spinmill/backend/internal/service"
	"spinmill/backend/internal/store/memory"
)

func testClock() time.Time {
	return time.Date(2026, time.October, 18, 9, 30, 0, 0, time.UTC)
}

func newTestBackend(t *testing.T) (*millclient.Client, string) {
	t.Helper()
	logger := logging.Discard()
	svc := service.New(memory.NewSeeded(), service.Options{Logger: logger, Clock: testClock})
	api := httpapi.New(svc, service.NewDrafts(svc, time.Hour, logger), nil, "*", logger)
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	client, err := millclient.New(server.URL, millclient.WithLogger(logger))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return client, server.URL
}

func runSession(t *testing.T, client *millclient.Client, inwardID string, input string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	s := newSession(client, strings.NewReader(input), &out, lotwizard.WithLogger(logging.Discard()))
	err := s.run(context.Background(), inwardID)
	return out.String(), err
}

// details answers the lot detail prompts in order: lot no, set no, bales,
// cess, gross, tare, candy rate, quintal rate, remarks.
func details(bales, gross, tare string) string {
	return strings.Join([]string{"", "S1", bales, "", gross, tare, "", "", ""}, "\n") + "\n"
}

func TestSessionCreatesLot(t *testing.T) {
	client, _ := newTestBackend(t)

	out, err := runSession(t, client, "inward-seed-1", details("2", "300", "20")+"n\ns\n")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "lot UC/26-27/0001 created with 2 weightments") {
		t.Fatalf("expected created message, got:\n%s", out)
	}
	if !strings.Contains(out, "inward IN-0001 now has 98 bales free") {
		t.Fatalf("expected refreshed inward entry, got:\n%s", out)
	}

	lot, err := client.GetLot(context.Background(), "UC/26-27/0001")
	if err != nil {
		t.Fatalf("get lot: %v", err)
	}
	if lot.SetNo != "S1" || lot.NettWeight != 280 || len(lot.Weightments) != 2 {
		t.Fatalf("unexpected lot: %+v", lot)
	}
}

func TestSessionReportsGuardsAndMismatch(t *testing.T) {
	client, _ := newTestBackend(t)

	input := "IN-0003\n" +
		details("2", "20", "30") + // gross below tare, rejected
		details("2", "300", "20") +
		"e\n1\n160\n\n" + "n\n" + // bale 1 now 160 kg, totals no longer match
		"e\n1\n150\n\n" + "n\n" +
		"b\n" + "n\n" + "s\n"
	out, err := runSession(t, client, "", input)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, want := range []string{
		"IN-0003",
		"grossWeight must be greater than tare weight",
		"weightment mismatch",
		"NOT reconciled",
		"lot UC/26-27/0001 created with 2 weightments",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestSessionRejectsNonFiniteNumbers(t *testing.T) {
	client, _ := newTestBackend(t)

	input := strings.Join([]string{"", "S1", "2", "", "inf", "300", "NaN", "20", "", "", ""}, "\n") + "\n" +
		"n\ns\n"
	out, err := runSession(t, client, "inward-seed-1", input)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if strings.Count(out, "enter a number") != 2 {
		t.Fatalf("expected both non-finite answers to be refused:\n%s", out)
	}
	if !strings.Contains(out, "lot UC/26-27/0001 created with 2 weightments") {
		t.Fatalf("expected lot created after corrections:\n%s", out)
	}
}

func TestSessionReportsOutOfRangeDetails(t *testing.T) {
	client, _ := newTestBackend(t)

	input := details("2", "2000000", "20") + details("2", "300", "20") + "n\ns\n"
	out, err := runSession(t, client, "inward-seed-1", input)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "grossWeight must not exceed 1000000") {
		t.Fatalf("expected bound message:\n%s", out)
	}
	if !strings.Contains(out, "lot UC/26-27/0001 created") {
		t.Fatalf("expected lot created after correction:\n%s", out)
	}
}

func TestSessionRenumbersAfterTakenLotNo(t *testing.T) {
	client, _ := newTestBackend(t)
	ctx := context.Background()

	taken := domain.LotCreateRequest{InwardID: "inward-seed-2", LotNo: "UC/26-27/0005", BalesQty: 1, GrossWeight: 150, TareWeight: 10}
	if _, err := client.CreateLot(ctx, taken); err != nil {
		t.Fatalf("create taken lot: %v", err)
	}

	input := strings.Join([]string{"UC/26-27/0005", "S1", "2", "", "300", "20", "", "", ""}, "\n") + "\n" +
		"n\n" + "s\n" + "l\nUC/26-27/0006\n" + "s\n"
	out, err := runSession(t, client, "inward-seed-1", input)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, want := range []string{
		"submit failed",
		"last submit failed",
		"lot UC/26-27/0006 created with 2 weightments",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestSessionBackToDetails(t *testing.T) {
	client, _ := newTestBackend(t)

	out, err := runSession(t, client, "inward-seed-1", details("2", "300", "20")+"b\n"+details("3", "300", "30")+"n\ns\n")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "lot UC/26-27/0001 created with 3 weightments") {
		t.Fatalf("expected 3 regenerated rows:\n%s", out)
	}
}

func TestSessionInputClosedDiscardsDraft(t *testing.T) {
	client, _ := newTestBackend(t)

	out, err := runSession(t, client, "inward-seed-2", details("2", "300", "20"))
	if !errors.Is(err, errInputClosed) {
		t.Fatalf("expected input closed, got %v\n%s", err, out)
	}

	entry, err := client.GetInwardEntry(context.Background(), "inward-seed-2")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.AvailableBales != 60 {
		t.Fatalf("expected no lot created, %d bales free", entry.AvailableBales)
	}
}

func TestSessionQuit(t *testing.T) {
	client, _ := newTestBackend(t)

	out, err := runSession(t, client, "inward-seed-2", details("2", "300", "20")+"q\n")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "lot draft discarded") {
		t.Fatalf("expected discard message, got:\n%s", out)
	}
}

func TestSessionUnknownInward(t *testing.T) {
	client, _ := newTestBackend(t)
	if _, err := runSession(t, client, "inward-missing", ""); err == nil {
		t.Fatal("expected unknown inward entry to fail")
	}
}

func TestAppCommands(t *testing.T) {
	_, url := newTestBackend(t)

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	if err := app.Run([]string{"lotwizard", "--api", url, "next-number"}); err != nil {
		t.Fatalf("next-number: %v", err)
	}
	if strings.TrimSpace(out.String()) != "UC/26-27/0001" {
		t.Fatalf("unexpected next number output %q", out.String())
	}

	out.Reset()
	app = newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	if err := app.Run([]string{"lotwizard", "--api", url, "inward"}); err != nil {
		t.Fatalf("inward: %v", err)
	}
	if !strings.Contains(out.String(), "IN-0001") || !strings.Contains(out.String(), "inward-seed-3") {
		t.Fatalf("unexpected inward listing:\n%s", out.String())
	}
}
