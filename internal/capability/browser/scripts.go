package browser

import (
	"encoding/json"
	"fmt"
)

// snapshotScript renders the page body as an indented outline of elements,
// with text, links and form values for the interactive ones.
const snapshotScript = `(() => {
  const detailed = new Set(['a','button','input','textarea','select','h1','h2','h3','h4','h5','h6','p','label','li','img']);
  const skipped = new Set(['script','style','noscript','template']);
  const lines = [];
  const walk = (el, depth) => {
    if (!el || el.nodeType !== 1) return;
    const tag = el.tagName.toLowerCase();
    if (skipped.has(tag)) return;
    let line = '  '.repeat(depth) + '- ' + tag;
    if (el.id) line += ' #' + el.id;
    if (detailed.has(tag)) {
      const text = (el.textContent || el.alt || '').trim().replace(/\s+/g, ' ').slice(0, 50);
      if (text) line += ' "' + text + '"';
      if (el.href) line += ' [' + el.href + ']';
      if (el.value !== undefined && el.value !== '') line += ' value="' + el.value + '"';
      if (el.type) line += ' type=' + el.type;
    }
    lines.push(line);
    for (const child of el.children) walk(child, depth + 1);
  };
  walk(document.body, 0);
  return lines.join('\n');
})()`

func hoverScript(selector string) string {
	quoted, _ := json.Marshal(selector)
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) throw new Error('element not found');
  for (const type of ['mouseover', 'mouseenter', 'mousemove']) {
    el.dispatchEvent(new MouseEvent(type, {bubbles: true}));
  }
  return true;
})()`, quoted)
}
