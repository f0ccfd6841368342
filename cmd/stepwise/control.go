package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/stepwise/internal/httpclient"
	"github.com/crimson-sun/stepwise/internal/model"
)

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("addr", "", "Daemon address (default from STEPWISE_LISTEN)")
	cmd.Flags().String("token", "", "Bearer token (default from STEPWISE_TOKEN)")
}

func newClient(cmd *cobra.Command) (*httpclient.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = "http://" + cfg.Listen
	}
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.Token
	}
	return httpclient.New(addr, token, httpclient.WithTimeout(10*time.Second)), nil
}

// newControlCmd builds a command that posts one control message to the daemon.
func newControlCmd(use, short string, typ model.MessageType) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			var reply model.Message
			if err := client.PostJSON(cmd.Context(), "/control", model.Message{Type: typ}, &reply); err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			var st model.StatusUpdate
			if len(reply.Payload) > 0 {
				if err := json.Unmarshal(reply.Payload, &st); err != nil {
					return fmt.Errorf("%s: decode reply: %w", use, err)
				}
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(st)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s", st.Status)
			if st.SessionID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " (session %s)", st.SessionID)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recording state and the current workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			var data model.RecordingData
			if err := client.GetJSON(cmd.Context(), "/recording-data", nil, &data); err != nil {
				return fmt.Errorf("status: %w", err)
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(data)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:   %s\n", data.RecordingStatus)
			fmt.Fprintf(out, "Workflow: %s (v%s)\n", data.Workflow.Name, data.Workflow.Version)
			fmt.Fprintf(out, "Steps:    %d\n", len(data.Workflow.Steps))
			for i, s := range data.Workflow.Steps {
				fmt.Fprintf(out, "  %3d. %-10s tab=%d %s\n", i+1, s.Type, s.TabID, stepDetail(s))
			}
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func stepDetail(s model.Step) string {
	switch {
	case s.Target != nil && s.Target.CSSSelector != "":
		return s.Target.CSSSelector
	case s.Target != nil:
		return s.Target.XPath
	default:
		return s.URL
	}
}
