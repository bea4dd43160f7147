package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <image>",
	Short: "Enroll a face and print its new face_id",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnroll,
}

var checkInCmd = &cobra.Command{
	Use:   "check-in <image>",
	Short: "Match a face against enrolled identities",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckIn,
}

var updateCmd = &cobra.Command{
	Use:   "update <face_id> <image>",
	Short: "Replace an identity's face; prints the new face_id",
	Long: `Replace the stored face of <face_id> with the face in <image>.
The identity receives a new face_id; the old one stops resolving.`,
	Args: cobra.ExactArgs(2),
	RunE: runUpdate,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <face_id>",
	Short: "Delete one identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var deleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete every enrolled identity",
	Args:  cobra.NoArgs,
	RunE:  runDeleteAll,
}

func init() {
	deleteAllCmd.Flags().Bool("yes", false, "Do not ask for confirmation")
	rootCmd.AddCommand(enrollCmd, checkInCmd, updateCmd, deleteCmd, deleteAllCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	ctx := context.Background()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	faceID, err := a.Engine.Enroll(ctx, image)
	if err != nil {
		return fmt.Errorf("enroll: %s", describe(err))
	}
	fmt.Println(faceID)
	return nil
}

func runCheckIn(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	ctx := context.Background()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Engine.CheckIn(ctx, image)
	if err != nil {
		return fmt.Errorf("check-in: %s", describe(err))
	}
	if !res.Matched {
		if res.Nearest {
			return fmt.Errorf("no matching face found (best similarity %.4f, threshold %.2f)", res.Similarity, a.Engine.Threshold())
		}
		return fmt.Errorf("no matching face found (store is empty)")
	}
	fmt.Printf("%s\t%.4f\n", res.FaceID, res.Similarity)
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	ctx := context.Background()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	newID, err := a.Engine.Update(ctx, args[0], image)
	if err != nil {
		return fmt.Errorf("update: %s", describe(err))
	}
	fmt.Println(newID)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Engine.Delete(ctx, args[0]); err != nil {
		return fmt.Errorf("delete: %s", describe(err))
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func runDeleteAll(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		fmt.Fprint(cmd.OutOrStdout(), "Delete ALL enrolled faces? Type 'yes' to continue: ")
		var answer string
		if _, err := fmt.Fscanln(cmd.InOrStdin(), &answer); err != nil || answer != "yes" {
			return fmt.Errorf("aborted")
		}
	}

	ctx := context.Background()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Engine.DeleteAll(ctx); err != nil {
		return fmt.Errorf("delete-all: %s", describe(err))
	}
	fmt.Println("All faces have been deleted")
	return nil
}
