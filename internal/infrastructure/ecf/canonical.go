package ecf

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/ecf-core/internal/domain"
)

// Canonicalize devuelve la forma canónica (C14N inclusiva) del XML: finales de línea
// normalizados, sin comentarios, sin instrucciones de procesamiento ni declaración XML y sin
// espacios entre elementos. Dos documentos que solo difieren en indentación producen los mismos
// bytes, y aplicar la función sobre su propio resultado no lo cambia.
func Canonicalize(data []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(normalizeNewlines(data)); err != nil {
		return nil, fmt.Errorf("%w: parsear XML: %v", domain.ErrParse, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("%w: documento sin raíz", domain.ErrParse)
	}
	return CanonicalizeElement(doc.Root())
}

// CanonicalizeElement canonicaliza un elemento como documento independiente. El elemento debe
// declarar los namespaces que usa.
func CanonicalizeElement(el *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	strip(&doc.Element)

	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("ecf: serializar XML: %w", err)
	}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Entity = map[string]string{}
	out, err := c14n.Canonicalize(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: c14n: %v", domain.ErrParse, err)
	}
	return out, nil
}

// strip elimina comentarios, instrucciones de procesamiento, directivas y el texto compuesto
// solo de espacios en elementos que tienen hijos.
func strip(el *etree.Element) {
	hasChildElements := len(el.ChildElements()) > 0
	for i := len(el.Child) - 1; i >= 0; i-- {
		switch t := el.Child[i].(type) {
		case *etree.Comment, *etree.ProcInst, *etree.Directive:
			el.RemoveChildAt(i)
		case *etree.CharData:
			if hasChildElements && t.IsWhitespace() {
				el.RemoveChildAt(i)
			}
		case *etree.Element:
			strip(t)
		}
	}
}

func normalizeNewlines(data []byte) []byte {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
}
