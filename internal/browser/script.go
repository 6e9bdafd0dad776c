package browser

// childLookupJS resolves the index-th element matched by parent (CSS or XPath),
// then child (CSS) inside it, and returns its text or attribute.
const childLookupJS = `(parent, isXPath, index, child, attr) => {
	let nodes = [];
	if (isXPath) {
		const r = document.evaluate(parent, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < r.snapshotLength; i++) nodes.push(r.snapshotItem(i));
	} else {
		nodes = Array.from(document.querySelectorAll(parent));
	}
	const el = nodes[index];
	if (!el) return {found: false, value: ""};
	const target = child ? el.querySelector(child) : el;
	if (!target) return {found: false, value: ""};
	if (attr) {
		const v = target.getAttribute(attr);
		return {found: v !== null, value: v || ""};
	}
	return {found: true, value: target.innerText || target.textContent || ""};
}`

const scrollToBottomJS = `() => { window.scrollTo(0, document.body.scrollHeight); return true; }`

// lookupResult is the decoded value of childLookupJS.
type lookupResult struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}
