package ocr

// TesseractConfig configures the optional Tesseract backend.
type TesseractConfig struct {
	// Languages is a "+" separated list such as "eng+deu".
	Languages string
}

// DefaultTesseractConfig returns English recognition.
func DefaultTesseractConfig() TesseractConfig {
	return TesseractConfig{Languages: "eng"}
}
