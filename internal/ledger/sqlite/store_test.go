package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/minukim/paysync/internal/domain"
	"github.com/minukim/paysync/internal/ledger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})
	return store
}

func testPayment(externalID string, paidAt time.Time, itemCount int) *domain.Payment {
	p := &domain.Payment{
		ExternalID:  externalID,
		Provider:    domain.ProviderNaver,
		ServiceType: "SHOPPING",
		PaidAt:      paidAt,
		StatusCode:  "PURCHASE_DECIDED",
		StatusText:  "구매확정",
		StatusColor: "#00c73c",
		Merchant:    domain.Merchant{Name: "Test Store"},
		ProductName: fmt.Sprintf("Product %s", externalID),
		TotalAmount: 12900,
		PayMethods:  map[string]int64{"easyCardAmount": 12900},
	}
	for i := 1; i <= itemCount; i++ {
		unit := int64(12900)
		p.LineItems = append(p.LineItems, domain.LineItem{
			LineNo:      i,
			ProductName: fmt.Sprintf("Item %d of %s", i, externalID),
			Quantity:    1,
			UnitPrice:   &unit,
		})
	}
	p.ProductCount = itemCount
	return p
}

func createTestAccount(t *testing.T, store *Store, id, provider string) {
	t.Helper()
	err := store.CreateAccount(context.Background(), &domain.Account{
		ID:       id,
		Provider: provider,
		Alias:    "test account",
	})
	if err != nil {
		t.Fatalf("CreateAccount(%s) error = %v", id, err)
	}
}

func TestSave_SecondSaveReplacesInsteadOfDuplicating(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	createTestAccount(t, store, "acct-1", domain.ProviderNaver)

	paidAt := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	p := testPayment("pay-100", paidAt, 3)
	if err := store.Save(ctx, "acct-1", p); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}

	// Re-fetch produced an updated status and one fewer item.
	p2 := testPayment("pay-100", paidAt, 2)
	p2.StatusText = "배송중"
	if err := store.Save(ctx, "acct-1", p2); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := store.ListPayments(ctx, ledger.ListFilter{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("ListPayments() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d payments, want 1", len(got))
	}
	if got[0].StatusText != "배송중" {
		t.Errorf("StatusText = %q, want updated value", got[0].StatusText)
	}
	if len(got[0].LineItems) != 2 {
		t.Fatalf("got %d line items, want 2 after shrink", len(got[0].LineItems))
	}
	for i, item := range got[0].LineItems {
		if item.LineNo != i+1 {
			t.Errorf("line item %d has LineNo %d", i, item.LineNo)
		}
	}
	if got[0].PayMethods["easyCardAmount"] != 12900 {
		t.Errorf("PayMethods = %v", got[0].PayMethods)
	}
}

func TestCheckpoint(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	createTestAccount(t, store, "acct-1", domain.ProviderNaver)

	cp, err := store.Checkpoint(ctx, "acct-1", domain.ProviderNaver)
	if err != nil {
		t.Fatalf("Checkpoint() on empty ledger error = %v", err)
	}
	if cp != nil {
		t.Fatalf("Checkpoint() on empty ledger = %+v, want nil", cp)
	}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"pay-1", "pay-2", "pay-3"} {
		p := testPayment(id, base.Add(time.Duration(i)*24*time.Hour), 1)
		if err := store.Save(ctx, "acct-1", p); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}

	cp, err = store.Checkpoint(ctx, "acct-1", domain.ProviderNaver)
	if err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	if cp == nil {
		t.Fatal("Checkpoint() = nil, want newest payment")
	}
	if cp.LastExternalID != "pay-3" {
		t.Errorf("LastExternalID = %q, want pay-3", cp.LastExternalID)
	}
	if !cp.LastPaidAt.Equal(base.Add(48 * time.Hour)) {
		t.Errorf("LastPaidAt = %v", cp.LastPaidAt)
	}

	// Another provider under the same account has its own checkpoint.
	cp, err = store.Checkpoint(ctx, "acct-1", domain.ProviderCoupang)
	if err != nil {
		t.Fatalf("Checkpoint() for other provider error = %v", err)
	}
	if cp != nil {
		t.Errorf("Checkpoint() for other provider = %+v, want nil", cp)
	}
}

func TestPurge_ScopedToAccountAndProvider(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	createTestAccount(t, store, "acct-1", domain.ProviderNaver)
	createTestAccount(t, store, "acct-2", domain.ProviderNaver)

	paidAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := store.Save(ctx, "acct-1", testPayment("pay-1", paidAt, 2)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, "acct-2", testPayment("pay-2", paidAt, 2)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := store.Purge(ctx, "acct-1", domain.ProviderNaver); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}

	gone, err := store.ListPayments(ctx, ledger.ListFilter{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("ListPayments() error = %v", err)
	}
	if len(gone) != 0 {
		t.Errorf("purged account still has %d payments", len(gone))
	}

	kept, err := store.ListPayments(ctx, ledger.ListFilter{AccountID: "acct-2"})
	if err != nil {
		t.Fatalf("ListPayments() error = %v", err)
	}
	if len(kept) != 1 || len(kept[0].LineItems) != 2 {
		t.Errorf("other account affected by purge: %+v", kept)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Items != 2 {
		t.Errorf("Stats().Items = %d, want 2 (orphan rows left behind?)", stats.Items)
	}
}

func TestGetPayment(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	createTestAccount(t, store, "acct-1", domain.ProviderNaver)

	paidAt := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	if err := store.Save(ctx, "acct-1", testPayment("pay-7", paidAt, 2)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.GetPayment(ctx, "acct-1", "pay-7")
	if err != nil {
		t.Fatalf("GetPayment() error = %v", err)
	}
	if got.ExternalID != "pay-7" || !got.PaidAt.Equal(paidAt) {
		t.Errorf("GetPayment() = %+v", got)
	}
	if len(got.LineItems) != 2 {
		t.Errorf("got %d line items, want 2", len(got.LineItems))
	}

	if _, err := store.GetPayment(ctx, "acct-1", "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("GetPayment(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetPayment(ctx, "other-acct", "pay-7"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("GetPayment for other account error = %v, want ErrNotFound", err)
	}
}

func TestListPayments_NewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	createTestAccount(t, store, "acct-1", domain.ProviderNaver)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		p := testPayment(fmt.Sprintf("pay-%d", i), base.AddDate(0, 0, i), 1)
		if err := store.Save(ctx, "acct-1", p); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := store.ListPayments(ctx, ledger.ListFilter{AccountID: "acct-1", Limit: 3})
	if err != nil {
		t.Fatalf("ListPayments() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d payments, want 3", len(got))
	}
	wantOrder := []string{"pay-5", "pay-4", "pay-3"}
	for i, want := range wantOrder {
		if got[i].ExternalID != want {
			t.Errorf("payment[%d] = %q, want %q", i, got[i].ExternalID, want)
		}
	}
}

func TestSearchItems(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	createTestAccount(t, store, "acct-1", domain.ProviderNaver)

	paidAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	p := testPayment("pay-1", paidAt, 0)
	p.LineItems = []domain.LineItem{
		{LineNo: 1, ProductName: "무선 마우스", Quantity: 1},
		{LineNo: 2, ProductName: "USB 케이블 100% 정품", Quantity: 2},
	}
	if err := store.Save(ctx, "acct-1", p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	hits, err := store.SearchItems(ctx, "마우스", 10)
	if err != nil {
		t.Fatalf("SearchItems() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].Item.ProductName != "무선 마우스" {
		t.Errorf("hit item = %q", hits[0].Item.ProductName)
	}
	if hits[0].Payment.ExternalID != "pay-1" {
		t.Errorf("hit payment = %q", hits[0].Payment.ExternalID)
	}

	// LIKE wildcards in the query must match literally.
	hits, err = store.SearchItems(ctx, "100%", 10)
	if err != nil {
		t.Fatalf("SearchItems() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("wildcard-escaped search got %d hits, want 1", len(hits))
	}

	hits, err = store.SearchItems(ctx, "없는상품", 10)
	if err != nil {
		t.Fatalf("SearchItems() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits for missing product, want 0", len(hits))
	}
}

func TestAccounts_CRUDAndHeaders(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	acct := &domain.Account{ID: "acct-1", Provider: domain.ProviderCoupang, Alias: "personal"}
	if err := store.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if err := store.CreateAccount(ctx, acct); !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Errorf("duplicate CreateAccount() error = %v, want ErrAlreadyExists", err)
	}

	got, err := store.GetAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if got.Alias != "personal" || got.Provider != domain.ProviderCoupang {
		t.Errorf("GetAccount() = %+v", got)
	}

	if _, err := store.GetAccount(ctx, "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("GetAccount(missing) error = %v, want ErrNotFound", err)
	}

	got.Alias = "work"
	if err := store.UpdateAccount(ctx, got); err != nil {
		t.Fatalf("UpdateAccount() error = %v", err)
	}
	got, err = store.GetAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetAccount() after update error = %v", err)
	}
	if got.Alias != "work" {
		t.Errorf("Alias after update = %q, want work", got.Alias)
	}

	headers := map[string]string{"Cookie": "sid=1", "User-Agent": "Mozilla/5.0"}
	if err := store.SaveHeaders(ctx, "acct-1", headers); err != nil {
		t.Fatalf("SaveHeaders() error = %v", err)
	}
	gotHeaders, err := store.Headers(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Headers() error = %v", err)
	}
	if gotHeaders["Cookie"] != "sid=1" || gotHeaders["User-Agent"] != "Mozilla/5.0" {
		t.Errorf("Headers() = %v", gotHeaders)
	}

	// Replacing headers drops keys absent from the new set.
	if err := store.SaveHeaders(ctx, "acct-1", map[string]string{"Cookie": "sid=2"}); err != nil {
		t.Fatalf("SaveHeaders() replace error = %v", err)
	}
	gotHeaders, err = store.Headers(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Headers() after replace error = %v", err)
	}
	if len(gotHeaders) != 1 || gotHeaders["Cookie"] != "sid=2" {
		t.Errorf("Headers() after replace = %v", gotHeaders)
	}

	if err := store.DeleteAccount(ctx, "acct-1"); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}
	if _, err := store.GetAccount(ctx, "acct-1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("GetAccount() after delete error = %v, want ErrNotFound", err)
	}
	if err := store.DeleteAccount(ctx, "acct-1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("second DeleteAccount() error = %v, want ErrNotFound", err)
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"100%", `100\%`},
		{"a_b", `a\_b`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
