package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/example/parkswap/internal/models"
)

type alertLine struct {
	models.Alert
	RemainingSeconds int64    `json:"remaining_seconds"`
	DistanceMeters   *float64 `json:"distance_m"`
}

func (a alertLine) String() string {
	s := fmt.Sprintf("%s  %-9s  %s EUR  %ds left  %s", a.ID, a.Status, a.Price.StringFixed(2), a.RemainingSeconds, a.Address)
	if a.DistanceMeters != nil {
		s += fmt.Sprintf("  (%.0fm)", *a.DistanceMeters)
	}
	if a.ReservedByID != "" {
		s += "  reserved by " + a.ReservedByID
	}
	return s
}

func textAlert(w io.Writer, payload []byte) error {
	var a alertLine
	if err := json.Unmarshal(payload, &a); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, a)
	return err
}

func textAlerts(w io.Writer, payload []byte) error {
	var list []alertLine
	if err := json.Unmarshal(payload, &list); err != nil {
		return err
	}
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "no alerts")
		return err
	}
	for _, a := range list {
		if _, err := fmt.Fprintln(w, a); err != nil {
			return err
		}
	}
	return nil
}

func textRequest(w io.Writer, payload []byte) error {
	var r models.ReservationRequest
	if err := json.Unmarshal(payload, &r); err != nil {
		return err
	}
	line := fmt.Sprintf("request %s on %s  buyer=%s  %s", r.ID, r.AlertID, r.Buyer.ID, r.Status)
	if r.ETASeconds > 0 {
		line += fmt.Sprintf("  eta=%.0fs", r.ETASeconds)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(opts *RootOptions) *cobra.Command {
	var (
		price    string
		minutes  int
		lat, lng float64
		address  string
	)
	cmd := &cobra.Command{
		Use:          "publish <owner-id>",
		Short:        "Publish a parking alert",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("invalid --price: %w", err)
			}
			in := map[string]any{
				"owner_id":             args[0],
				"price":                p,
				"available_in_minutes": minutes,
				"address":              address,
				"loc":                  models.Coord{Lat: lat, Lon: lng},
			}
			payload, err := opts.call(cmd.Context(), http.MethodPost, "/alerts", nil, in)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), payload, textAlert)
		},
	}
	cmd.Flags().StringVar(&price, "price", "3", "asking price")
	cmd.Flags().IntVar(&minutes, "minutes", 10, "minutes until the spot is free")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().StringVar(&address, "address", "", "street address")
	return cmd
}

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "show <alert-id>",
		Short:        "Show one alert with its countdown",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := opts.call(cmd.Context(), http.MethodGet, "/alerts/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), payload, textAlert)
		},
	}
}

// NewNearbyCommand creates the nearby command.
func NewNearbyCommand(opts *RootOptions) *cobra.Command {
	var (
		lat, lng, radius float64
		viewer           string
		limit            int
	)
	cmd := &cobra.Command{
		Use:          "nearby",
		Short:        "List active alerts around a point, nearest first",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
			q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
			q.Set("radius_m", strconv.FormatFloat(radius, 'f', -1, 64))
			if viewer != "" {
				q.Set("viewer_id", viewer)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			payload, err := opts.call(cmd.Context(), http.MethodGet, "/alerts", q, nil)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), payload, textAlerts)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().Float64Var(&radius, "radius", 1000, "search radius in meters")
	cmd.Flags().StringVar(&viewer, "viewer", "", "hide the viewer's own and hidden alerts")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	return cmd
}

// NewRequestCommand creates the request command.
func NewRequestCommand(opts *RootOptions) *cobra.Command {
	var buyer models.Buyer
	cmd := &cobra.Command{
		Use:          "request <alert-id> <buyer-id>",
		Short:        "Ask the owner for the spot",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			buyer.ID = args[1]
			payload, err := opts.call(cmd.Context(), http.MethodPost, "/alerts/"+url.PathEscape(args[0])+"/requests", nil, buyer)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), payload, textRequest)
		},
	}
	cmd.Flags().StringVar(&buyer.Name, "name", "", "buyer display name")
	cmd.Flags().StringVar(&buyer.CarBrand, "car-brand", "", "car brand")
	cmd.Flags().StringVar(&buyer.CarModel, "car-model", "", "car model")
	cmd.Flags().StringVar(&buyer.CarColor, "car-color", "", "car color")
	cmd.Flags().StringVar(&buyer.CarPlate, "car-plate", "", "car plate")
	return cmd
}

// NewRespondCommand creates the accept, reject and think commands.
func NewRespondCommand(opts *RootOptions, action string) *cobra.Command {
	return &cobra.Command{
		Use:          action + " <request-id> <owner-id>",
		Short:        "Owner answer: " + action,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/requests/" + url.PathEscape(args[0]) + "/" + action
			payload, err := opts.call(cmd.Context(), http.MethodPost, path, nil, map[string]string{"actor_id": args[1]})
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), payload, textRequest)
		},
	}
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(opts *RootOptions) *cobra.Command {
	return alertAction(opts, "cancel", "Cancel an alert as its owner or buyer")
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(opts *RootOptions) *cobra.Command {
	return alertAction(opts, "complete", "Confirm as owner that the spot was handed over")
}

func alertAction(opts *RootOptions, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:          action + " <alert-id> <actor-id>",
		Short:        short,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/alerts/" + url.PathEscape(args[0]) + "/" + action
			payload, err := opts.call(cmd.Context(), http.MethodPost, path, nil, map[string]string{"actor_id": args[1]})
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), payload, textAlert)
		},
	}
}

// NewLocationCommand creates the location command.
func NewLocationCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "location <user-id> <lat> <lng>",
		Short:        "Report a user position",
		Args:         cobra.ExactArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid lat: %w", err)
			}
			lng, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid lng: %w", err)
			}
			p := models.Position{UserID: args[0], Loc: models.Coord{Lat: lat, Lon: lng}}
			payload, err := opts.call(cmd.Context(), http.MethodPost, "/locations", nil, p)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), payload, nil)
		},
	}
}

// NewLedgerCommand creates the ledger command.
func NewLedgerCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "ledger <user-id>",
		Short:        "Show a user's balance and ban state",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := opts.call(cmd.Context(), http.MethodGet, "/ledger/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), payload, func(w io.Writer, b []byte) error {
				var v struct {
					models.LedgerEntry
					Banned bool `json:"banned"`
				}
				if err := json.Unmarshal(b, &v); err != nil {
					return err
				}
				line := fmt.Sprintf("%s  balance %s EUR", v.UserID, v.Balance.StringFixed(2))
				if v.Banned && v.BanUntil != nil {
					line += "  banned until " + v.BanUntil.Format("2006-01-02 15:04")
				}
				if v.ExtraCommissionNext {
					line += "  extra commission on next sale"
				}
				_, err := fmt.Fprintln(w, line)
				return err
			})
		},
	}
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "history <user-id>",
		Short:        "List finished alerts, newest first",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := opts.call(cmd.Context(), http.MethodGet, "/users/"+url.PathEscape(args[0])+"/history", nil, nil)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), payload, func(w io.Writer, b []byte) error {
				var items []struct {
					alertLine
					Role string `json:"role"`
				}
				if err := json.Unmarshal(b, &items); err != nil {
					return err
				}
				for _, it := range items {
					if _, err := fmt.Fprintf(w, "[%s] %s %s  %s\n", it.Role, it.ID, it.Status, it.Price.StringFixed(2)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
