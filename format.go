package main

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const timeLabelLayout = "15:04:05"

// labelFormatter renders tick labels for one locale.
type labelFormatter struct {
	printer *message.Printer
}

func newLabelFormatter(locale string) *labelFormatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &labelFormatter{printer: message.NewPrinter(tag)}
}

func (f *labelFormatter) value(v float64, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	return f.printer.Sprintf(fmt.Sprintf("%%.%df", decimals), v)
}

func (f *labelFormatter) clock(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLabelLayout)
}
