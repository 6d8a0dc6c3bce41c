package xlsxpipe

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeClient struct {
	objectFunc func(ctx context.Context, prompt string, out any) error
}

func (f *fakeClient) GenerateObject(ctx context.Context, prompt string, out any) error {
	return f.objectFunc(ctx, prompt, out)
}

func (f *fakeClient) GenerateStream(ctx context.Context, prompt string) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func TestDescribeNoData(t *testing.T) {
	d := NewDescriber(nil, nil)
	got := d.Describe(context.Background(), "sheet_sales", []string{"name"}, nil)
	if !strings.Contains(got, "sheet_sales") || !strings.Contains(got, "no data") {
		t.Fatalf("got %q", got)
	}
}

func TestDescribeGenerationFailed(t *testing.T) {
	client := &fakeClient{objectFunc: func(ctx context.Context, prompt string, out any) error {
		return errors.New("backend down")
	}}
	d := NewDescriber(client, nil)
	got := d.Describe(context.Background(), "sheet_sales", []string{"name"},
		[]map[string]string{{"name": "Acme"}})
	if !strings.Contains(got, "sheet_sales") || !strings.Contains(got, "generation failed") {
		t.Fatalf("got %q", got)
	}
}

func TestDescribePromptUsesSanitizedColumns(t *testing.T) {
	var seen string
	client := &fakeClient{objectFunc: func(ctx context.Context, prompt string, out any) error {
		seen = prompt
		*(out.(*struct {
			Description string `json:"description"`
		})) = struct {
			Description string `json:"description"`
		}{Description: "A table of sales.\n- name (TEXT): customer name"}
		return nil
	}}
	d := NewDescriber(client, nil)
	got := d.Describe(context.Background(), "sheet_sales",
		[]string{"name", "col_2024_revenue"},
		[]map[string]string{{"name": "Acme", "col_2024_revenue": "1200"}})

	if !strings.Contains(seen, "col_2024_revenue") {
		t.Fatal("prompt must enumerate sanitized column names")
	}
	if !strings.Contains(seen, "TEXT") {
		t.Fatal("prompt must pin the string-typed contract")
	}
	if !strings.Contains(got, "customer name") {
		t.Fatalf("got %q", got)
	}
}
