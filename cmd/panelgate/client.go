package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/panelgate/panelgate/pkg/auth"
	"github.com/panelgate/panelgate/pkg/config"
	"github.com/panelgate/panelgate/pkg/event"
	"github.com/panelgate/panelgate/pkg/retry"
	"github.com/panelgate/panelgate/pkg/server"
)

const requestTimeout = 30 * time.Second

// credentials returns the token and password from flags, falling back to
// the environment.
func credentials() (token, password string) {
	token, password = authToken, authPassword
	if token == "" {
		token = os.Getenv(config.EnvAuthToken)
	}
	if password == "" {
		password = os.Getenv(config.EnvAuthPassword)
	}
	return token, password
}

// do sends req, retrying transport errors per the --attempts flag. Any HTTP
// response is final.
func do(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	return retry.DoWithValue(ctx, retry.DefaultPolicy(attempts), func(ctx context.Context) (*http.Response, error) {
		r := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, retry.Permanent(err)
			}
			r.Body = body
		}
		return client.Do(r)
	})
}

// probeResult is the outcome of a single probe request.
type probeResult struct {
	URL        string `json:"url"`
	StatusCode int    `json:"statusCode"`
	Authorized bool   `json:"authorized"`
}

func probeCmd() *cobra.Command {
	var path string
	var useQuery bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check whether the credentials are accepted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			token, password := credentials()
			result, err := probe(ctx, http.DefaultClient, serverURL+path, token, password, useQuery)
			if err != nil {
				return fmt.Errorf("failed to probe: %w", err)
			}

			switch outputFormat {
			case "json":
				return outputJSON(cmd.OutOrStdout(), result)
			case "table":
				return outputTable(cmd.OutOrStdout(),
					[]string{"URL", "Status", "Authorized"},
					[]string{result.URL, fmt.Sprintf("%d %s", result.StatusCode, http.StatusText(result.StatusCode)), fmt.Sprintf("%t", result.Authorized)},
				)
			default:
				return fmt.Errorf("unsupported output format: %s", outputFormat)
			}
		},
	}

	cmd.Flags().StringVar(&path, "path", "/api/status", "Path to request")
	cmd.Flags().BoolVar(&useQuery, "query", false, "Send the token as the webauth query parameter instead of a header")

	return cmd
}

// probe issues a GET to target with the given credentials. The reported URL
// never contains the token.
func probe(ctx context.Context, client *http.Client, target, token, password string, useQuery bool) (*probeResult, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	display := u.String()

	if useQuery && token != "" {
		q := u.Query()
		q.Set(auth.QueryToken, token)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if !useQuery && token != "" {
		req.Header.Set(auth.HeaderToken, token)
	}
	if password != "" {
		req.Header.Set(auth.HeaderPassword, password)
	}

	resp, err := do(ctx, client, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return &probeResult{
		URL:        display,
		StatusCode: resp.StatusCode,
		Authorized: resp.StatusCode != http.StatusUnauthorized,
	}, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show control surface status over RPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			token, password := credentials()
			client := server.NewStatusClient(http.DefaultClient, serverURL,
				connect.WithInterceptors(auth.NewCredentialsInterceptor(token, password)))

			resp, err := retry.DoWithValue(ctx, retry.DefaultPolicy(attempts), func(ctx context.Context) (*connect.Response[server.Status], error) {
				resp, err := client.CallUnary(ctx, connect.NewRequest(&server.StatusRequest{}))
				if err != nil && connect.CodeOf(err) != connect.CodeUnavailable {
					return nil, retry.Permanent(err)
				}
				return resp, err
			})
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			switch outputFormat {
			case "json":
				return outputJSON(cmd.OutOrStdout(), resp.Msg)
			case "table":
				return outputTable(cmd.OutOrStdout(),
					[]string{"Method", "Connections", "Uptime"},
					[]string{resp.Msg.Method, fmt.Sprintf("%d", resp.Msg.Connections), formatUptime(resp.Msg.UptimeSeconds)},
				)
			default:
				return fmt.Errorf("unsupported output format: %s", outputFormat)
			}
		},
	}
}

func giftCmd() *cobra.Command {
	var months, giftedMonths string
	var fromBulk bool

	cmd := &cobra.Command{
		Use:   "gift <username> <recipient> <plan>",
		Short: "Broadcast a subscription gift event to connected panels",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			gift := event.NewSubscriptionGift(args[0], args[1], args[2],
				event.WithMonths(months),
				event.WithGiftedMonths(giftedMonths),
				event.WithFromBulk(fromBulk),
			)
			token, password := credentials()
			ev, err := postGift(ctx, http.DefaultClient, serverURL, token, password, gift)
			if err != nil {
				return fmt.Errorf("failed to send gift: %w", err)
			}
			return outputJSON(cmd.OutOrStdout(), ev)
		},
	}

	cmd.Flags().StringVar(&months, "months", "", "Cumulative months of the recipient")
	cmd.Flags().StringVar(&giftedMonths, "gifted-months", "", "Months gifted at once")
	cmd.Flags().BoolVar(&fromBulk, "bulk", false, "Mark the gift as part of a bulk gift")

	return cmd
}

func postGift(ctx context.Context, client *http.Client, baseURL, token, password string, gift event.SubscriptionGift) (json.RawMessage, error) {
	body, err := json.Marshal(gift)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/events", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(auth.HeaderToken, token)
	}
	if password != "" {
		req.Header.Set(auth.HeaderPassword, password)
	}

	resp, err := do(ctx, client, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return json.RawMessage(data), nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputTable(w io.Writer, header []string, rows ...[]string) error {
	table := tablewriter.NewWriter(w)
	table.Append(header)
	for _, row := range rows {
		table.Append(row)
	}
	return table.Render()
}

func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
