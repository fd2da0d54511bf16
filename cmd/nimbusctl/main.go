package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/nimbus/pkg/invokeadaptor"
	"github.com/cuemby/nimbus/pkg/rpcmsg"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "nimbusctl",
	Short:   "nimbusctl - Nimbus cluster CLI",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"nimbusctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().String("manager", "localhost:7070", "Manager gRPC address")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(createCmd, invokeCmd, killCmd, groupCmd, queryCmd, applyCmd)
}

func dial(cmd *cobra.Command) (*invokeadaptor.Client, context.Context, context.CancelFunc, error) {
	addr, _ := cmd.Flags().GetString("manager")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	client, err := invokeadaptor.New(ctx, addr, nil)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return client, ctx, cancel, nil
}

func parseLabels(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	labels := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, _ := strings.Cut(p, "=")
		labels[k] = v
	}
	return labels
}

func parseResourceDemand(pairs []string) map[string]int64 {
	if len(pairs) == 0 {
		return nil
	}
	demand := make(map[string]int64, len(pairs))
	for _, p := range pairs {
		k, v, _ := strings.Cut(p, "=")
		n, _ := strconv.ParseInt(v, 10, 64)
		demand[k] = n
	}
	return demand
}

var createCmd = &cobra.Command{
	Use:   "create <function-name>",
	Short: "Schedule a new function instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel, err := dial(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer client.Close()

		priority, _ := cmd.Flags().GetInt32("priority")
		concurrency, _ := cmd.Flags().GetInt32("concurrency")
		preempt, _ := cmd.Flags().GetBool("preempt-allowed")
		labels, _ := cmd.Flags().GetStringSlice("label")
		demand, _ := cmd.Flags().GetStringSlice("resource")
		scheduleTimeout, _ := cmd.Flags().GetDuration("schedule-timeout")

		instanceID, err := client.Create(ctx, invokeadaptor.CreateOptions{
			FunctionName:   args[0],
			ResourceDemand: parseResourceDemand(demand),
			Priority:       priority,
			Concurrency:    concurrency,
			PreemptAllowed: preempt,
			Labels:         parseLabels(labels),
			Timeout:        scheduleTimeout,
		})
		if err != nil {
			return err
		}
		fmt.Println(instanceID)
		return nil
	},
}

var invokeCmd = &cobra.Command{
	Use:   "invoke <instance-id>",
	Short: "Call an already-scheduled instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel, err := dial(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer client.Close()

		objArgs, _ := cmd.Flags().GetStringSlice("arg")
		needOrder, _ := cmd.Flags().GetBool("ordered")

		seq, err := client.Invoke(ctx, args[0], objArgs, needOrder)
		if err != nil {
			return err
		}
		fmt.Printf("invoke sequence: %d\n", seq)
		return nil
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <instance-id>",
	Short: "Terminate a single instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel, err := dial(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer client.Close()
		return client.KillInstance(ctx, args[0], rpcmsg.SignalKillInstance)
	},
}

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage instance groups",
}

var groupKillCmd = &cobra.Command{
	Use:   "kill <group-id>",
	Short: "Terminate every instance in a group and delete it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel, err := dial(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer client.Close()
		return client.RemoveResourceGroup(ctx, args[0])
	},
}

func init() {
	createCmd.Flags().Int32("priority", 0, "Schedule priority")
	createCmd.Flags().Int32("concurrency", 1, "Max concurrent invokes")
	createCmd.Flags().Bool("preempt-allowed", false, "Allow this instance to be preempted by higher priority work")
	createCmd.Flags().StringSlice("label", nil, "Label in key=value form, may repeat")
	createCmd.Flags().StringSlice("resource", nil, "Resource demand in kind=amount form, may repeat")
	createCmd.Flags().Duration("schedule-timeout", 0, "How long to let the scheduler retry on insufficient resources before failing fast (0 fails fast immediately)")

	invokeCmd.Flags().StringSlice("arg", nil, "Bound argument object ID, may repeat")
	invokeCmd.Flags().Bool("ordered", false, "Assign an invoke-order sequence number")

	groupCmd.AddCommand(groupKillCmd)
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Inspect cluster state",
}

var queryResourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "List the resource-unit inventory",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel, err := dial(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer client.Close()

		nodeID, _ := cmd.Flags().GetString("node")
		units, err := client.QueryResources(ctx, nodeID)
		if err != nil {
			return err
		}
		return printJSON(units)
	},
}

var queryInstancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List instances, optionally filtered by function name",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel, err := dial(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer client.Close()

		functionName, _ := cmd.Flags().GetString("function")
		instances, err := client.QueryNamedInstances(ctx, functionName)
		if err != nil {
			return err
		}
		return printJSON(instances)
	},
}

var queryGroupCmd = &cobra.Command{
	Use:   "group <group-id>",
	Short: "Inspect a group's membership and state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel, err := dial(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer client.Close()

		resp, err := client.QueryResourceGroup(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

func init() {
	queryResourcesCmd.Flags().String("node", "", "Filter to one node ID")
	queryInstancesCmd.Flags().String("function", "", "Filter to one function name")
	queryCmd.AddCommand(queryResourcesCmd, queryInstancesCmd, queryGroupCmd)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
