package repository

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"

	"github.com/PhuccNguyen/hhsvhbvn/pkg/credentials"
)

// sheetsAPI is the slice of the Sheets v4 surface the store needs
type sheetsAPI interface {
	SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error)
	AddSheet(ctx context.Context, spreadsheetID, title string) error
	GetValues(ctx context.Context, spreadsheetID, readRange string) ([][]interface{}, error)
	UpdateValues(ctx context.Context, spreadsheetID, writeRange string, values [][]interface{}) error
	AppendValues(ctx context.Context, spreadsheetID, writeRange string, values [][]interface{}) error
}

// apiFactory builds an authenticated client for the resolved account
type apiFactory func(ctx context.Context, account *credentials.ServiceAccount) (sheetsAPI, error)

type googleSheetsAPI struct {
	srv *sheetsv4.Service
}

// newServiceAccountAPI signs JWT assertions with the service-account key
func newServiceAccountAPI(ctx context.Context, account *credentials.ServiceAccount) (sheetsAPI, error) {
	conf := &jwt.Config{
		Email:      account.ClientEmail,
		PrivateKey: []byte(account.PrivateKeyPEM),
		Scopes:     []string{sheetsv4.SpreadsheetsScope, sheetsv4.DriveFileScope},
		TokenURL:   google.JWTTokenURL,
	}
	// The client outlives the request, so its token source must not inherit ctx
	return newGoogleSheetsAPI(ctx, option.WithHTTPClient(conf.Client(context.Background())))
}

// newEndpointAPI talks to a fixed endpoint with a plain HTTP client
func newEndpointAPI(endpoint string, client *http.Client) apiFactory {
	return func(ctx context.Context, _ *credentials.ServiceAccount) (sheetsAPI, error) {
		return newGoogleSheetsAPI(ctx, option.WithHTTPClient(client), option.WithEndpoint(endpoint))
	}
}

func newGoogleSheetsAPI(ctx context.Context, opts ...option.ClientOption) (sheetsAPI, error) {
	srv, err := sheetsv4.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &googleSheetsAPI{srv: srv}, nil
}

func (g *googleSheetsAPI) SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error) {
	resp, err := g.srv.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}
	return titles, nil
}

func (g *googleSheetsAPI) AddSheet(ctx context.Context, spreadsheetID, title string) error {
	req := &sheetsv4.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsv4.Request{{
			AddSheet: &sheetsv4.AddSheetRequest{
				Properties: &sheetsv4.SheetProperties{Title: title},
			},
		}},
	}
	_, err := g.srv.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	return err
}

func (g *googleSheetsAPI) GetValues(ctx context.Context, spreadsheetID, readRange string) ([][]interface{}, error) {
	resp, err := g.srv.Spreadsheets.Values.Get(spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (g *googleSheetsAPI) UpdateValues(ctx context.Context, spreadsheetID, writeRange string, values [][]interface{}) error {
	vr := &sheetsv4.ValueRange{Values: values}
	_, err := g.srv.Spreadsheets.Values.Update(spreadsheetID, writeRange, vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	return err
}

func (g *googleSheetsAPI) AppendValues(ctx context.Context, spreadsheetID, writeRange string, values [][]interface{}) error {
	vr := &sheetsv4.ValueRange{Values: values}
	_, err := g.srv.Spreadsheets.Values.Append(spreadsheetID, writeRange, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}
