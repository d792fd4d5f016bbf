package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"

	"example.com/tap-checkout/services/checkout/internal/domain"
)

// DocumentStore хранит печатные формы.
type DocumentStore interface {
	Save(ctx context.Context, name string, data []byte) error
	Open(ctx context.Context, name string) ([]byte, error)
}

// FileStore — DocumentStore на локальном диске.
type FileStore struct {
	dir string
}

// NewFileStore создаёт хранилище в каталоге dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: недопустимое имя документа %q", domain.ErrValidation, name)
	}
	return filepath.Join(s.dir, clean), nil
}

// Save пишет документ через временный файл, чтобы читатель не увидел половину.
func (s *FileStore) Save(_ context.Context, name string, data []byte) error {
	full, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("ошибка создания каталога документов: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".doc-*")
	if err != nil {
		return fmt.Errorf("ошибка записи документа: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка записи документа: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ошибка записи документа: %w", err)
	}
	return os.Rename(tmp.Name(), full)
}

func (s *FileStore) Open(_ context.Context, name string) ([]byte, error) {
	full, err := s.path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// RenderInvoice печатает счёт только из сохранённого снимка.
func RenderInvoice(inv *domain.Invoice) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "TAX INVOICE %s\n", inv.InvoiceNumber)
	fmt.Fprintf(&buf, "Order:  %s\n", inv.OrderNumber)
	fmt.Fprintf(&buf, "Date:   %s\n", inv.CreatedAt.Format("2006-01-02"))
	if inv.VATNumber != "" {
		fmt.Fprintf(&buf, "VAT No: %s\n", inv.VATNumber)
	}

	buf.WriteString("\nBill to:\n")
	for _, line := range []string{inv.BillingName, inv.BillingEmail, inv.BillingPhone, inv.BillingAddress} {
		if line != "" {
			fmt.Fprintf(&buf, "  %s\n", line)
		}
	}
	buf.WriteString("\n")

	table := tablewriter.NewWriter(&buf)
	table.Header("#", "Item", "SKU", "Qty", "Unit price", "Total")
	for i, it := range inv.Items {
		name := it.ProductName
		if it.VariantName != "" {
			name += " (" + it.VariantName + ": " + it.VariantValue + ")"
		}
		if err := table.Append([]string{
			fmt.Sprint(i + 1),
			name,
			it.SKU,
			fmt.Sprint(it.Quantity),
			it.UnitPrice.StringFixed(2),
			it.TotalPrice.StringFixed(2),
		}); err != nil {
			return nil, fmt.Errorf("ошибка печати позиции счёта: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return nil, fmt.Errorf("ошибка печати счёта: %w", err)
	}

	totals := tablewriter.NewWriter(&buf)
	rows := [][]string{
		{"Subtotal", inv.Subtotal.StringFixed(2)},
		{"VAT (" + inv.VATPercentage.StringFixed(2) + "%)", inv.VATAmount.StringFixed(2)},
		{"Shipping", inv.ShippingFee.StringFixed(2)},
		{"Discount", "-" + inv.Discount.StringFixed(2)},
		{"Grand total (" + inv.Currency + ")", inv.GrandTotal.StringFixed(2)},
	}
	for _, row := range rows {
		if err := totals.Append(row); err != nil {
			return nil, fmt.Errorf("ошибка печати итогов счёта: %w", err)
		}
	}
	if err := totals.Render(); err != nil {
		return nil, fmt.Errorf("ошибка печати итогов счёта: %w", err)
	}

	fmt.Fprintf(&buf, "\nPayment: %s / %s\n", inv.PaymentMethod, inv.PaymentStatus)
	return buf.Bytes(), nil
}
