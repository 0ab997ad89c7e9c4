package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/depbit/zeroboot/embedded"
	"github.com/depbit/zeroboot/internal/detect"
	"github.com/depbit/zeroboot/internal/device"
	bootEd "github.com/depbit/zeroboot/internal/ed25519"
	"github.com/depbit/zeroboot/internal/flash"
	"github.com/depbit/zeroboot/internal/flasher"
	"github.com/depbit/zeroboot/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	portFlag    string
	baudFlag    int
	addrFlag    uint32
	sigFileFlag string
	keyFileFlag string
	touchFlag   bool
	pubKeyFlag  string
	outFlag     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "zeroboot",
		Short: "Flash signed firmware to ZeroBoot (SAMD21) devices",
		Long: `ZeroBoot is a cross-platform tool for the ZeroBoot USB bootloader.

The loader accepts firmware over its CDC-ACM serial port, verifies an
Ed25519 signature over the image's SHA-256 hash, and only then marks
the application valid and starts it. This tool speaks that protocol:
it can flash and sign images, generate signing keys, and emulate the
device end for testing without hardware.`,
	}

	flashCmd := &cobra.Command{
		Use:   "flash <firmware.bin>",
		Short: "Flash firmware to a device",
		Long: `Erase the application region, stream the firmware image, and seal it
with an Ed25519 signature.

The signature is taken from --sig (64 raw bytes or 128 hex characters),
or produced on the fly from the private key given with --key. The
loader only accepts images signed by the key it was built with.`,
		Args: cobra.ExactArgs(1),
		RunE: runFlash,
	}
	flashCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	flashCmd.Flags().IntVarP(&baudFlag, "baud", "b", serial.DefaultBaudRate, "Baud rate")
	flashCmd.Flags().Uint32Var(&addrFlag, "addr", flash.DefaultAppStart, "Load address of the image")
	flashCmd.Flags().StringVar(&sigFileFlag, "sig", "", "Detached signature file")
	flashCmd.Flags().StringVar(&keyFileFlag, "key", "", "Private key file to sign with")
	flashCmd.Flags().BoolVar(&touchFlag, "touch", true, "Enter the bootloader via a 1200-baud touch first (only with --port)")

	signCmd := &cobra.Command{
		Use:   "sign <firmware.bin>",
		Short: "Sign a firmware image",
		Long: `Compute the SHA-256 hash of the image and sign it with the Ed25519
private key from --key. The signature is written as 128 hex characters.`,
		Args: cobra.ExactArgs(1),
		RunE: runSign,
	}
	signCmd.Flags().StringVar(&keyFileFlag, "key", "", "Private key file (required)")
	signCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Signature output file (default <firmware>.sig)")
	signCmd.MarkFlagRequired("key")

	keygenCmd := &cobra.Command{
		Use:   "keygen <name>",
		Short: "Generate an Ed25519 signing key pair",
		Long: `Write <name>.key (private key, hex) and <name>.pub (public key, hex).
The public key is the one to compile into the loader.`,
		Args: cobra.ExactArgs(1),
		RunE: runKeygen,
	}

	verifyCmd := &cobra.Command{
		Use:   "verify <firmware.bin> <signature>",
		Short: "Verify a firmware signature locally",
		Long: `Check a detached signature the way the loader will: SHA-256 the image
and verify the Ed25519 signature with the loader's own verifier. Uses
the built-in public key unless --pubkey is given.`,
		Args: cobra.ExactArgs(2),
		RunE: runVerify,
	}
	verifyCmd.Flags().StringVar(&pubKeyFlag, "pubkey", "", "Public key file (hex, default: built-in key)")

	emulateCmd := &cobra.Command{
		Use:   "emulate",
		Short: "Run an emulated device",
		Long: `Run the bootloader state machine against a serial port (for example a
pty created with socat) or stdin/stdout. Useful for exercising hosts
without hardware. The emulator exits when a verified image "starts".`,
		RunE: runEmulate,
	}
	emulateCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port to serve on (default stdio)")
	emulateCmd.Flags().IntVarP(&baudFlag, "baud", "b", serial.DefaultBaudRate, "Baud rate")
	emulateCmd.Flags().StringVar(&pubKeyFlag, "pubkey", "", "Public key file (hex, default: built-in key)")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show device info",
		Long:  "Detect and show information about connected loaders.",
		RunE:  runInfo,
	}
	infoCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	infoCmd.Flags().IntVarP(&baudFlag, "baud", "b", serial.DefaultBaudRate, "Baud rate")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("zeroboot %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	rootCmd.AddCommand(flashCmd, signCmd, keygenCmd, verifyCmd, emulateCmd, infoCmd, versionCmd, listCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runFlash(cmd *cobra.Command, args []string) error {
	firmwarePath := args[0]

	firmware, err := os.ReadFile(firmwarePath)
	if err != nil {
		return fmt.Errorf("failed to read firmware file: %w", err)
	}
	fmt.Printf("Firmware: %s (%d bytes)\n", firmwarePath, len(firmware))

	sig, err := resolveSignature(firmware)
	if err != nil {
		return err
	}

	portName := portFlag
	if portName == "" {
		fmt.Println("Detecting device...")
		result, err := detect.DetectDevice(baudFlag)
		if err != nil {
			return fmt.Errorf("device detection failed: %w", err)
		}
		portName = result.Port
		fmt.Printf("Found loader v%s on %s\n", result.Version, result.Port)
	} else if touchFlag {
		fmt.Println("Touching port at 1200 baud...")
		if err := serial.Touch1200(portName); err != nil {
			return err
		}
	}

	port, err := serial.Open(portName, baudFlag)
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	defer port.Close()

	fmt.Printf("Port: %s @ %d baud\n", portName, baudFlag)

	f := flasher.New(port)

	loaderVersion, err := f.Hello()
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	fmt.Printf("Connected to loader v%s\n", loaderVersion)

	fmt.Println("Erasing application region...")
	if err := f.EraseApp(); err != nil {
		return err
	}

	totalBlocks := (len(firmware) + flasher.BlockSize - 1) / flasher.BlockSize
	bar := progressbar.NewOptions(totalBlocks,
		progressbar.OptionSetDescription("Flashing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	f.SetProgressCallback(func(current, total int) {
		bar.Set(current)
	})

	fmt.Printf("\nFlashing at 0x%X (%d bytes)...\n", addrFlag, len(firmware))
	if err := f.FlashImage(firmware, addrFlag); err != nil {
		return err
	}
	bar.Finish()

	fmt.Println("Uploading signature...")
	if err := f.Done(sig); err != nil {
		return err
	}

	fmt.Println("Image verified, application started.")
	return nil
}

// resolveSignature returns the 64-byte signature for the image, either
// loaded from --sig or created from --key.
func resolveSignature(firmware []byte) ([]byte, error) {
	switch {
	case sigFileFlag != "" && keyFileFlag != "":
		return nil, fmt.Errorf("--sig and --key are mutually exclusive")
	case sigFileFlag != "":
		return readSignatureFile(sigFileFlag)
	case keyFileFlag != "":
		priv, err := readPrivateKey(keyFileFlag)
		if err != nil {
			return nil, err
		}
		digest := sha256.Sum256(firmware)
		return ed25519.Sign(priv, digest[:]), nil
	default:
		return nil, fmt.Errorf("a signature is required: pass --sig or --key")
	}
}

func runSign(cmd *cobra.Command, args []string) error {
	firmware, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read firmware file: %w", err)
	}

	priv, err := readPrivateKey(keyFileFlag)
	if err != nil {
		return err
	}

	digest := sha256.Sum256(firmware)
	sig := ed25519.Sign(priv, digest[:])

	out := outFlag
	if out == "" {
		out = args[0] + ".sig"
	}
	if err := os.WriteFile(out, []byte(hex.EncodeToString(sig)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write signature: %w", err)
	}

	fmt.Printf("SHA-256:   %x\n", digest)
	fmt.Printf("Signature: %s\n", out)
	return nil
}

func runKeygen(cmd *cobra.Command, args []string) error {
	name := args[0]

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("key generation failed: %w", err)
	}

	keyFile := name + ".key"
	pubFile := name + ".pub"
	if err := os.WriteFile(keyFile, []byte(hex.EncodeToString(priv)+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(pubFile, []byte(hex.EncodeToString(pub)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	fmt.Printf("Private key: %s (keep this safe)\n", keyFile)
	fmt.Printf("Public key:  %s (compile this into the loader)\n", pubFile)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	firmware, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read firmware file: %w", err)
	}
	sig, err := readSignatureFile(args[1])
	if err != nil {
		return err
	}

	key, err := resolvePublicKey()
	if err != nil {
		return err
	}

	digest := sha256.Sum256(firmware)
	if !bootEd.Verify(key[:], digest[:], sig) {
		return fmt.Errorf("signature is NOT valid for this image")
	}

	fmt.Printf("SHA-256: %x\n", digest)
	fmt.Println("Signature OK")
	return nil
}

func runEmulate(cmd *cobra.Command, args []string) error {
	key, err := resolvePublicKey()
	if err != nil {
		return err
	}

	dev := device.New(device.Config{PublicKey: key})

	if portFlag == "" {
		fmt.Fprintln(os.Stderr, "Emulating loader on stdio...")
		err = dev.Serve(stdio{})
	} else {
		port, perr := serial.Open(portFlag, baudFlag)
		if perr != nil {
			return fmt.Errorf("failed to open port: %w", perr)
		}
		defer port.Close()
		fmt.Fprintf(os.Stderr, "Emulating loader on %s...\n", portFlag)
		err = dev.Serve(port)
	}
	if err != nil {
		return err
	}

	if entry, ok := dev.Jumped(); ok {
		fmt.Fprintf(os.Stderr, "Application started, entry point 0x%08X\n", entry)
	}
	return nil
}

// stdio glues os.Stdin/os.Stdout into one transport for the emulator.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func runInfo(cmd *cobra.Command, args []string) error {
	if portFlag != "" {
		result, err := detect.DetectOnPort(portFlag, baudFlag)
		if err != nil {
			return fmt.Errorf("failed to detect loader on %s: %w", portFlag, err)
		}
		printDeviceInfo(result)
		return nil
	}

	fmt.Println("Scanning for loaders...")
	devices, err := detect.ListDevices(baudFlag)
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Println("No loaders found")
		return nil
	}

	fmt.Printf("Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		fmt.Printf("Device %d:\n", i+1)
		printDeviceInfo(&d)
		fmt.Println()
	}

	return nil
}

func printDeviceInfo(d *detect.Result) {
	fmt.Printf("  Port:    %s\n", d.Port)
	fmt.Printf("  Loader:  v%s\n", d.Version)
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}

	return nil
}

// readSignatureFile accepts either 64 raw bytes or 128 hex characters.
func readSignatureFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signature file: %w", err)
	}
	if len(data) == 64 {
		return data, nil
	}
	sig, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(sig) != 64 {
		return nil, fmt.Errorf("signature file %s is neither 64 raw bytes nor 128 hex characters", path)
	}
	return sig, nil
}

func readPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key file %s must hold %d hex-encoded bytes", path, ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(key), nil
}

func resolvePublicKey() ([32]byte, error) {
	if pubKeyFlag == "" {
		return embedded.BootPublicKey(), nil
	}
	var key [32]byte
	data, err := os.ReadFile(pubKeyFlag)
	if err != nil {
		return key, fmt.Errorf("failed to read public key file: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(raw) != 32 {
		return key, fmt.Errorf("public key file %s must hold 32 hex-encoded bytes", pubKeyFlag)
	}
	copy(key[:], raw)
	return key, nil
}
