package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/smazurov/tethernode/internal/camera"
	"github.com/smazurov/tethernode/internal/driver"
	"github.com/smazurov/tethernode/internal/driver/gphoto2"
	"github.com/smazurov/tethernode/internal/driver/sim"
	"github.com/smazurov/tethernode/internal/library"
	"github.com/smazurov/tethernode/internal/logging"
	"github.com/spf13/cobra"
)

// CreateShootCmd creates the shoot command.
func CreateShootCmd() *cobra.Command {
	var outputDir string
	var prefix string
	var useSim bool
	var gphoto2Binary string
	var cameraPort string
	var autofocus bool
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "shoot",
		Short: "Capture a single image and exit",
		Long: `Connects to the camera, optionally autofocuses, triggers one capture, ` +
			`downloads the image into the output directory and exits. ` +
			`No HTTP server is started.`,
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			// Initialize minimal logging
			loggingConfig := logging.Config{
				Level:  "info",
				Format: "text",
			}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("shoot")

			lib, err := library.New(outputDir, prefix, logging.GetLogger("library"))
			if err != nil {
				logger.Error("Failed to initialize image library", "dir", outputDir, "error", err)
				os.Exit(1)
			}

			var sess driver.Session
			if useSim {
				sess = sim.New(logging.GetLogger("driver"))
			} else {
				sess, err = gphoto2.Open(context.Background(), gphoto2.Options{
					Binary:       gphoto2Binary,
					Port:         cameraPort,
					KillMonitors: true,
				}, logging.GetLogger("driver"))
				if err != nil {
					logger.Error("Failed to connect to camera", "error", err)
					os.Exit(1)
				}
			}

			worker := camera.New(sess, lib, logging.GetLogger("camera"))

			var saved string
			worker.SetCaptureSink(func(path string) { saved = path })

			go worker.Run()

			if err := worker.Prepare().Wait(context.Background()); err != nil {
				logger.Warn("Camera configuration failed", "error", err)
			}

			if autofocus {
				h := worker.Autofocus()
				if err := h.Wait(context.Background()); err != nil {
					logger.Error("Autofocus failed", "error", err)
					worker.Stop()
					<-worker.Done()
					os.Exit(1)
				}
			}

			h := worker.CaptureDirect()
			captureErr := h.Wait(context.Background())

			worker.Stop()
			select {
			case <-worker.Done():
			case <-time.After(10 * time.Second):
				logger.Warn("Camera worker did not stop in time")
			}

			if captureErr != nil {
				logger.Error("Capture failed", "error", captureErr)
				os.Exit(1)
			}

			fmt.Println(saved)
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "images", "Directory for downloaded images")
	cmd.Flags().StringVar(&prefix, "prefix", "scan", "Filename prefix for the capture")
	cmd.Flags().BoolVar(&useSim, "sim", false, "Use the simulated camera instead of real hardware")
	cmd.Flags().StringVar(&gphoto2Binary, "gphoto2-binary", "gphoto2", "gphoto2 executable")
	cmd.Flags().StringVar(&cameraPort, "camera-port", "", "Pin a USB port (e.g. usb:001,004)")
	cmd.Flags().BoolVar(&autofocus, "autofocus", false, "Run the autofocus sequence before capturing")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}
