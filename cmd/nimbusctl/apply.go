package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/nimbus/pkg/invokeadaptor"
)

// nimbusResource is a generic Nimbus resource document: an
// apiVersion/kind/metadata/spec envelope, one YAML file per instance
// or resource group.
type nimbusResource struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   resourceMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type resourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a function instance or group definition from a YAML file",
	Long: `Apply schedules a function instance or instance group described by a
YAML file.

Examples:
  nimbusctl apply -f instance.yaml
  nimbusctl apply -f group.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var resource nimbusResource
	if err := yaml.Unmarshal(data, &resource); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	client, ctx, cancel, err := dial(cmd)
	if err != nil {
		return fmt.Errorf("failed to connect to manager: %w", err)
	}
	defer cancel()
	defer client.Close()

	switch resource.Kind {
	case "Instance":
		return applyInstance(ctx, client, &resource)
	case "ResourceGroup":
		return applyResourceGroup(ctx, client, &resource)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

func applyInstance(ctx context.Context, client *invokeadaptor.Client, r *nimbusResource) error {
	opts := invokeadaptor.CreateOptions{
		FunctionName:   specString(r.Spec, "functionName"),
		Priority:       int32(specInt(r.Spec, "priority")),
		Concurrency:    int32(specInt(r.Spec, "concurrency")),
		PreemptAllowed: specBool(r.Spec, "preemptAllowed"),
		Labels:         r.Metadata.Labels,
		Timeout:        time.Duration(specInt(r.Spec, "timeoutSeconds")) * time.Second,
	}
	instanceID, err := client.Create(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to create instance %s: %w", r.Metadata.Name, err)
	}
	fmt.Printf("instance/%s created (%s)\n", r.Metadata.Name, instanceID)
	return nil
}

func applyResourceGroup(ctx context.Context, client *invokeadaptor.Client, r *nimbusResource) error {
	memberSpecs, _ := r.Spec["members"].([]interface{})
	members := make([]invokeadaptor.CreateOptions, 0, len(memberSpecs))
	for _, raw := range memberSpecs {
		m, _ := raw.(map[string]interface{})
		members = append(members, invokeadaptor.CreateOptions{
			FunctionName: specString(m, "functionName"),
			Priority:     int32(specInt(m, "priority")),
		})
	}

	isRange := specBool(r.Spec, "isRange")
	bundleSize := int32(specInt(r.Spec, "bundleSize"))
	sameLifecycle := specBool(r.Spec, "sameLifecycle")

	groupID, instanceIDs, _, err := client.CreateResourceGroup(ctx, r.Metadata.Name, members, isRange, bundleSize, sameLifecycle)
	if err != nil {
		return fmt.Errorf("failed to create resource group %s: %w", r.Metadata.Name, err)
	}
	fmt.Printf("resourcegroup/%s created (%s), %d members\n", r.Metadata.Name, groupID, len(instanceIDs))
	return nil
}

func specString(spec map[string]interface{}, key string) string {
	if v, ok := spec[key].(string); ok {
		return v
	}
	return ""
}

func specInt(spec map[string]interface{}, key string) int {
	switch v := spec[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func specBool(spec map[string]interface{}, key string) bool {
	v, _ := spec[key].(bool)
	return v
}
