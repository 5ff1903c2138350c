package export

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/mailarchive/internal/digest"
	"github.com/nhle/mailarchive/internal/model"
)

// isoLayout renders ISO 8601 timestamps with a numeric offset.
const isoLayout = "2006-01-02T15:04:05-07:00"

// Fields are the metadata column names, in output order.
var Fields = []string{
	"id", "file", "from", "from_name", "to", "cc", "bcc", "subject", "date",
	"archived_at", "size_bytes", "has_attachments", "sha256", "hash_verified",
	"bcc_map_type",
}

// Row is the metadata recorded for one exported email.
type Row struct {
	ID             int64  `xml:"id"`
	File           string `xml:"file"`
	From           string `xml:"from"`
	FromName       string `xml:"from_name"`
	To             string `xml:"to"`
	Cc             string `xml:"cc"`
	Bcc            string `xml:"bcc"`
	Subject        string `xml:"subject"`
	Date           string `xml:"date"`
	ArchivedAt     string `xml:"archived_at"`
	SizeBytes      int64  `xml:"size_bytes"`
	HasAttachments string `xml:"has_attachments"`
	SHA256         string `xml:"sha256"`
	HashVerified   string `xml:"hash_verified"`
	BccMapType     string `xml:"bcc_map_type"`
}

// Values returns the row in Fields order.
func (r Row) Values() []string {
	return []string{
		strconv.FormatInt(r.ID, 10), r.File, r.From, r.FromName, r.To, r.Cc, r.Bcc,
		r.Subject, r.Date, r.ArchivedAt, strconv.FormatInt(r.SizeBytes, 10),
		r.HasAttachments, r.SHA256, r.HashVerified, r.BccMapType,
	}
}

// EmlPath returns emails/YYYY/MM/DD/<id>.eml for e.
func EmlPath(e *model.Email) string {
	d := e.ReceivedAt.UTC()
	return path.Join("emails", d.Format("2006"), d.Format("01"), d.Format("02"),
		strconv.FormatInt(e.ID, 10)+".eml")
}

// newRow builds the metadata for e, whose decompressed bytes are raw.
func newRow(e *model.Email, file string, raw []byte) Row {
	r := Row{
		ID:             e.ID,
		File:           file,
		From:           e.FromAddress,
		To:             strings.Join(e.ToAddresses, ", "),
		Cc:             strings.Join(e.CcAddresses, ", "),
		Bcc:            strings.Join(e.BccAddresses, ", "),
		Subject:        e.Subject,
		Date:           e.ReceivedAt.Format(isoLayout),
		SizeBytes:      e.SizeBytes,
		HasAttachments: yesNo(e.HasAttachments),
		SHA256:         digest.Sum(raw),
		HashVerified:   yesNo(digest.Verify(raw, e.Hash)),
		BccMapType:     string(e.Role),
	}
	if e.FromName != nil {
		r.FromName = *e.FromName
	}
	if e.ArchivedAt != nil {
		r.ArchivedAt = e.ArchivedAt.Format(isoLayout)
	}
	return r
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

type xmlIndex struct {
	XMLName     xml.Name `xml:"MailArchiveExport"`
	Version     string   `xml:"version,attr"`
	Created     string   `xml:"created,attr"`
	Application string   `xml:"application,attr"`
	Format      string   `xml:"format,attr"`
	Mails       []Row    `xml:"Mail"`
}

func writeXML(w io.Writer, rows []Row, created time.Time) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	err := enc.Encode(xmlIndex{
		Version:     "1.0",
		Created:     created.Format(isoLayout),
		Application: "MailArchive",
		Format:      "GoBD-compliant",
		Mails:       rows,
	})
	if err != nil {
		return fmt.Errorf("encoding index.xml: %w", err)
	}
	_, err = io.WriteString(w, "\n")
	return err
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func writeCSV(w io.Writer, rows []Row) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Fields); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.Values()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeHashes emits one "<sha256>  <path>" line per row so the file can be
// checked with sha256sum -c.
func writeHashes(w io.Writer, rows []Row) error {
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%s  %s\n", r.SHA256, r.File); err != nil {
			return err
		}
	}
	return nil
}

const readmeTemplate = `================================================================================
GoBD-KONFORMER E-MAIL-EXPORT
================================================================================

Export-Informationen:
---------------------
Datum des Exports: %s
Zeitraum: %s bis %s
Anzahl E-Mails: %d
Software: MailArchive
Version: 1.0
Format: GoBD-konform gemäß BMF-Schreiben vom 14.11.2014

Inhalt des Archivs:
-------------------
1. emails/          E-Mail-Dateien im Originalformat (.eml)
                    Struktur: emails/JJJJ/MM/TT/<ID>.eml

2. index.xml        Strukturierte Metadaten (XML)
                    ID, Absender, Empfänger, Datum, Betreff,
                    Dateipfad und SHA256-Prüfsumme je E-Mail

3. index.csv        Dieselben Metadaten als CSV (UTF-8 mit BOM)
                    für Tabellenkalkulationen

4. hashes.txt       SHA256-Prüfsummen aller E-Mail-Dateien
                    Format: <prüfsumme>  <datei>

5. readme.txt       Diese Datei

GoBD-Anforderungen:
-------------------
- Vollständigkeit:         alle E-Mails des gewählten Zeitraums
- Unveränderbarkeit:       SHA256-Prüfsummen je Datei
- Nachvollziehbarkeit:     chronologische Sortierung, vollständige Metadaten
- Maschinelle Auswertung:  XML- und CSV-Index, Standardformat .eml
- Lesbarkeit:              .eml-Dateien sind mit jedem E-Mail-Programm lesbar

Prüfsummen-Verifikation:
------------------------
Linux/macOS (im entpackten Verzeichnis):
  sha256sum -c hashes.txt

Windows (PowerShell), je Datei:
  Get-FileHash -Algorithm SHA256 <datei>

Metadatenfelder (index.xml / index.csv):
----------------------------------------
id               Eindeutige Datensatz-ID
file             Relativer Pfad zur .eml-Datei
from             Absenderadresse
from_name        Absendername
to               Empfänger (kommagetrennt)
cc               CC-Empfänger (kommagetrennt)
bcc              BCC-Empfänger (kommagetrennt)
subject          Betreff
date             Empfangsdatum (ISO 8601)
archived_at      Archivierungsdatum (ISO 8601)
size_bytes       Größe in Bytes
has_attachments  Anhänge vorhanden (yes/no)
sha256           SHA256-Prüfsumme der .eml-Datei
hash_verified    Abgleich mit der bei Archivierung gespeicherten Prüfsumme (yes/no)
bcc_map_type     Zuordnung (sender/recipient)

Rechtliche Grundlagen:
----------------------
- BMF-Schreiben vom 14.11.2014 (GoBD)
- § 147 AO (Ordnungsvorschriften für die Aufbewahrung von Unterlagen)
- § 257 HGB (Aufbewahrung von Unterlagen, Aufbewahrungsfristen)

Aufbewahrungsfrist:
-------------------
Steuerlich relevante E-Mails: 6 bzw. 10 Jahre

================================================================================
`

func writeReadme(w io.Writer, from, to *time.Time, count int, created time.Time) error {
	fromText, toText := "Beginn", "Heute"
	if from != nil {
		fromText = from.Format("02.01.2006")
	}
	if to != nil {
		toText = to.Format("02.01.2006")
	}
	_, err := fmt.Fprintf(w, readmeTemplate, created.Format("02.01.2006 15:04:05"), fromText, toText, count)
	return err
}
