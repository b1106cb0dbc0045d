package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var validateCmd = &cobra.Command{
	Use:   "validate <descriptor.yaml>",
	Short: "Validate a task descriptor YAML file",
	Long: `Validate a TaskDescriptor definition without running it.

Checks for:
- Valid YAML syntax
- Required fields (task_id, api_kind, target_base_url, load_profile)
- prompt_path and content_path in the field map when api_kind is custom-chat`,
	Args: cobra.ExactArgs(1),
	RunE: validateTask,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateTask(cmd *cobra.Command, args []string) error {
	descriptor, err := loadDescriptor(args[0])
	if err != nil {
		return err
	}

	if err := descriptor.Validate(); err != nil {
		fmt.Println()
		fmt.Printf("validation failed: %v\n", err)
		fmt.Println()
		return fmt.Errorf("validation failed")
	}

	fmt.Println()
	fmt.Println("descriptor is valid")
	fmt.Printf("   name:    %s\n", descriptor.Name)
	fmt.Printf("   target:  %s %s%s\n", descriptor.HTTPMethod, descriptor.TargetBaseURL, descriptor.APIPath)
	fmt.Printf("   api kind: %s\n", descriptor.APIKind)
	fmt.Printf("   stream:  %v\n", descriptor.StreamMode)
	fmt.Println()

	if verbose {
		out, err := yaml.Marshal(descriptor)
		if err == nil {
			fmt.Println(string(out))
		}
	}

	return nil
}
