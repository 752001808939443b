package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudx-io/cipherbid/auction"
	"github.com/cloudx-io/cipherbid/core"
)

const defaultAddr = "http://localhost:8080"

func newStatusCmd() *cobra.Command {
	var (
		addr   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the auction's current status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var status auction.Status
			if err := getJSON(cmd.Context(), addr, "/auction", &status); err != nil {
				return err
			}
			if format == "json" {
				return printJSON(cmd.OutOrStdout(), status)
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "auction service base URL")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "history [round]",
		Short: "Print archived rounds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				var record core.RoundRecord
				if err := getJSON(cmd.Context(), addr, "/history/"+args[0], &record); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), record)
			}
			var records []core.RoundRecord
			if err := getJSON(cmd.Context(), addr, "/history", &records); err != nil {
				return err
			}
			for _, r := range records {
				outcome := "unclaimed"
				if r.Settlement != nil {
					outcome = "winner " + r.Settlement.Winner.Hex() + " at " + r.Settlement.WinningBid.String()
					if r.Settlement.NoWinner {
						outcome = "no winner"
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "round %d  %s -> %s  bids %d  %s\n",
					r.Round, r.StartTime.Format(time.RFC3339), r.EndTime.Format(time.RFC3339), r.TotalBids, outcome)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "auction service base URL")
	return cmd
}

func getJSON(ctx context.Context, addr, path string, into any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(addr, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(w io.Writer, s auction.Status) {
	fmt.Fprintf(w, "Round:                 %d\n", s.Round)
	fmt.Fprintf(w, "Owner:                 %s\n", s.Owner.Hex())
	fmt.Fprintf(w, "Window:                %s -> %s\n", s.StartTime.Format(time.RFC3339), s.EndTime.Format(time.RFC3339))
	fmt.Fprintf(w, "Time remaining:        %ds\n", s.TimeRemaining)
	fmt.Fprintf(w, "Ended:                 %v\n", s.Ended)
	fmt.Fprintf(w, "Claimed:               %v\n", s.Claimed)
	fmt.Fprintf(w, "Total bids:            %d\n", s.TotalBids)
	fmt.Fprintf(w, "Encrypted highest bid: %s\n", s.EncryptedHighestBid.Hex())
	if s.PendingDecryption != "" {
		fmt.Fprintf(w, "Pending decryption:    %s\n", s.PendingDecryption)
	}
	if st := s.Settlement; st != nil {
		if st.NoWinner {
			fmt.Fprintf(w, "Settlement:            no winner\n")
		} else {
			fmt.Fprintf(w, "Winner:                %s\n", st.Winner.Hex())
			fmt.Fprintf(w, "Winning bid:           %s\n", st.WinningBid)
			fmt.Fprintf(w, "Prize:                 %s\n", st.Prize)
		}
	}
}
