// Command registryctl is an operator CLI wrapping the cluster management
// HTTP API: add-learner, change-membership, init, and ready. Grounded on
// spf13/cobra subcommand usage in straga-Mimir_lite/nornicdb's CLI
// entrypoint.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const managementCodeHeader = "x-management-code"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var target, managementCode string

	root := &cobra.Command{
		Use:   "registryctl",
		Short: "Operate a feature-registry cluster node's management API",
	}
	root.PersistentFlags().StringVar(&target, "target", "127.0.0.1:8091", "node management API address")
	root.PersistentFlags().StringVar(&managementCode, "management-code", os.Getenv("MANAGEMENT_CODE"), "shared management code")

	root.AddCommand(
		newAddLearnerCmd(&target, &managementCode),
		newChangeMembershipCmd(&target, &managementCode),
		newInitCmd(&target, &managementCode),
		newReadyCmd(&target, &managementCode),
	)
	return root
}

func newAddLearnerCmd(target, managementCode *string) *cobra.Command {
	var nodeID, addr string
	cmd := &cobra.Command{
		Use:   "add-learner",
		Short: "Add a node as a non-voting learner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(*target, "/add-learner", *managementCode, map[string]string{"nodeId": nodeID, "addr": addr})
		},
	}
	cmd.Flags().StringVar(&nodeID, "node-id", "", "joining node's id")
	cmd.Flags().StringVar(&addr, "addr", "", "joining node's advertise address")
	cmd.MarkFlagRequired("node-id")
	cmd.MarkFlagRequired("addr")
	return cmd
}

func newChangeMembershipCmd(target, managementCode *string) *cobra.Command {
	var nodeID, addr string
	cmd := &cobra.Command{
		Use:   "change-membership",
		Short: "Promote a node to full voting membership",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(*target, "/change-membership", *managementCode, map[string]string{"nodeId": nodeID, "addr": addr})
		},
	}
	cmd.Flags().StringVar(&nodeID, "node-id", "", "node id to promote")
	cmd.Flags().StringVar(&addr, "addr", "", "node's advertise address")
	cmd.MarkFlagRequired("node-id")
	cmd.MarkFlagRequired("addr")
	return cmd
}

func newInitCmd(target, managementCode *string) *cobra.Command {
	var servers []string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Bootstrap a new cluster with an initial server set (node-id=addr pairs)",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := make([]map[string]string, 0, len(servers))
			for _, s := range servers {
				id, addr, ok := splitPair(s)
				if !ok {
					return fmt.Errorf("invalid server %q, expected node-id=addr", s)
				}
				parsed = append(parsed, map[string]string{"nodeId": id, "addr": addr})
			}
			return postJSON(*target, "/init", *managementCode, map[string]interface{}{"servers": parsed})
		},
	}
	cmd.Flags().StringSliceVar(&servers, "server", nil, "node-id=addr, repeatable")
	return cmd
}

func newReadyCmd(target, managementCode *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check whether a node is ready to serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodGet, "http://"+*target+"/ready", nil)
			if err != nil {
				return err
			}
			if *managementCode != "" {
				req.Header.Set(managementCodeHeader, *managementCode)
			}
			resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			fmt.Println(string(body))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("node not ready (status %d)", resp.StatusCode)
			}
			return nil
		},
	}
}

func splitPair(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func postJSON(target, path, managementCode string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, "http://"+target+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if managementCode != "" {
		req.Header.Set(managementCodeHeader, managementCode)
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	fmt.Println(string(respBody))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
