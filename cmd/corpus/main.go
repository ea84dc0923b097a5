// Command corpus prepares plain-text training data. It can strip wikitext
// markup from MediaWiki XML dumps (.xml or .xml.bz2) so the output is
// suitable for character-level training.
package main

import (
	"bufio"
	"compress/bzip2"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

type page struct {
	Title    string `xml:"title"`
	NS       int    `xml:"ns"`
	Revision struct {
		Text string `xml:"text"`
	} `xml:"revision"`
}

var (
	reComment    = regexp.MustCompile(`<!--[\s\S]*?-->`)
	reRef        = regexp.MustCompile(`(?s)<ref[^>]*>.*?</ref>|<ref[^/]*/\s*>`)
	reTable      = regexp.MustCompile(`(?s)\{\|.*?\|\}`)
	reTemplate   = regexp.MustCompile(`\{\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}\}`)
	reCatFile    = regexp.MustCompile(`\[\[(Category|File|Image):[^\]]*\]\]`)
	reLink       = regexp.MustCompile(`\[\[([^\]|]*\|)?([^\]]*)\]\]`)
	reExtLink    = regexp.MustCompile(`\[https?://[^\s\]]* ([^\]]*)\]`)
	reBareLink   = regexp.MustCompile(`\[https?://[^\]]*\]`)
	reHTMLTag    = regexp.MustCompile(`<[^>]+>`)
	reBoldItalic = regexp.MustCompile(`'{2,3}`)
	reHeading    = regexp.MustCompile(`(?m)^={2,6}\s*(.+?)\s*={2,6}\s*$`)
	reMagic      = regexp.MustCompile(`__[A-Z]+__`)
	reListMark   = regexp.MustCompile(`(?m)^[*#:;]+ *`)
	reManySpace  = regexp.MustCompile(`[ \t]{2,}`)
	reManyBlank  = regexp.MustCompile(`\n{3,}`)
)

var entities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&nbsp;", " ",
	"&ndash;", "–",
	"&mdash;", "—",
)

func cleanWikitext(text string) string {
	if strings.HasPrefix(strings.ToUpper(text), "#REDIRECT") {
		return ""
	}

	s := reComment.ReplaceAllString(text, "")
	s = reRef.ReplaceAllString(s, "")
	s = reTable.ReplaceAllString(s, "")

	// Templates nest; repeat until the text stops shrinking.
	for i := 0; i < 5; i++ {
		prev := s
		s = reTemplate.ReplaceAllString(s, "")
		if s == prev {
			break
		}
	}

	s = reCatFile.ReplaceAllString(s, "")
	s = reLink.ReplaceAllStringFunc(s, func(m string) string {
		inner := m[2 : len(m)-2]
		if idx := strings.LastIndex(inner, "|"); idx >= 0 {
			return inner[idx+1:]
		}
		return inner
	})
	s = reExtLink.ReplaceAllString(s, "$1")
	s = reBareLink.ReplaceAllString(s, "")
	s = reHTMLTag.ReplaceAllString(s, "")
	s = reBoldItalic.ReplaceAllString(s, "")
	s = reHeading.ReplaceAllString(s, "\n$1\n")
	s = reMagic.ReplaceAllString(s, "")
	s = reListMark.ReplaceAllString(s, "")
	s = entities.Replace(s)
	s = reManySpace.ReplaceAllString(s, " ")
	s = reManyBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func main() {
	input := pflag.String("input", "", "MediaWiki XML dump (.xml or .xml.bz2)")
	output := pflag.String("output", "corpus.txt", "output text file")
	maxMB := pflag.Int("max-mb", 100, "stop after this many MB of text")
	minChars := pflag.Int("min-chars", 200, "skip articles shorter than this")
	pflag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	if *input == "" {
		pflag.Usage()
		os.Exit(1)
	}
	if err := extract(logger, *input, *output, *maxMB, *minChars); err != nil {
		logger.Fatal().Err(err).Msg("extract failed")
	}
}

func extract(logger zerolog.Logger, input, output string, maxMB, minChars int) error {
	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("open dump: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(input, ".bz2") {
		r = bzip2.NewReader(f)
	}

	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()
	w := bufio.NewWriterSize(out, 1<<20)

	dec := xml.NewDecoder(bufio.NewReaderSize(r, 4<<20))
	dec.Strict = false
	dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }

	target := int64(maxMB) << 20
	var written int64
	articles, skipped := 0, 0

	for written < target {
		tok, err := dec.Token()
		if err != nil {
			if err != io.EOF {
				logger.Warn().Err(err).Msg("dump truncated mid-parse")
			}
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "page" {
			continue
		}

		var p page
		if err := dec.DecodeElement(&p, &se); err != nil {
			continue
		}
		if p.NS != 0 || p.Revision.Text == "" {
			continue
		}

		cleaned := cleanWikitext(p.Revision.Text)
		if utf8.RuneCountInString(cleaned) < minChars {
			skipped++
			continue
		}

		n, err := fmt.Fprintf(w, "%s\n\n%s\n\n", p.Title, cleaned)
		if err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		written += int64(n)
		articles++
		if articles%1000 == 0 {
			logger.Info().
				Int("articles", articles).
				Float64("mb", float64(written)/(1<<20)).
				Msg("progress")
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	logger.Info().
		Str("output", output).
		Float64("mb", float64(written)/(1<<20)).
		Int("articles", articles).
		Int("skipped_short", skipped).
		Msg("done")
	return nil
}
